package di

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/savaki/runner-fleet/internal/fleet"
	"github.com/savaki/runner-fleet/internal/policy"
	"github.com/savaki/runner-fleet/internal/services"
)

// ProvideLaunchPolicy prepares the launch policy for the configured owners
func ProvideLaunchPolicy(config *services.Config) (*policy.Validator, error) {
	validator, err := policy.NewValidator(config.AllowedOwners)
	if err != nil {
		return nil, fmt.Errorf("failed to create launch policy: %w", err)
	}
	return validator, nil
}

func ProvideFleet(ec2Client *ec2.Client, store services.ParameterStore, config *services.Config, validator *policy.Validator) *fleet.Adapter {
	return fleet.New(ec2Client, store, config, fleet.WithValidator(validator))
}
