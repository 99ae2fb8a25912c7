package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/services"
)

// ProvideSSMClient returns nil when DISABLE_SSM=true so ProvideParameterStore
// falls back to environment variables
func ProvideSSMClient(awsConfig aws.Config) *ssm.Client {
	if os.Getenv("DISABLE_SSM") == "true" {
		return nil
	}

	return ssm.NewFromConfig(awsConfig)
}

// ProvideParameterStore selects the SSM store, or the env store for local runs
func ProvideParameterStore(ctx context.Context, ssmClient *ssm.Client, env string) services.ParameterStore {
	logger := zerolog.Ctx(ctx)

	if ssmClient == nil {
		logger.Info().Str("env", env).Msg("SSM disabled, reading fleet configuration from environment")
		return services.NewEnvParameterStore(env)
	}

	logger.Debug().Str("path", "/"+env+"/runner-fleet").Msg("Reading fleet configuration from Parameter Store")
	return services.NewSSMParameterStore(ssmClient, env)
}

// ProvideAppConfig loads fleet configuration from Parameter Store or environment
// variables, then overlays the config file when one was given
func ProvideAppConfig(ctx context.Context, store services.ParameterStore, awsConfig aws.Config, configFile ConfigFile) (*services.Config, error) {
	logger := zerolog.Ctx(ctx)

	config, err := store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if configFile != "" {
		if err := services.ApplyConfigFile(config, string(configFile)); err != nil {
			return nil, err
		}
	}

	// EC2 and SSM clients share awsConfig, so its region is the fleet region
	config.Region = awsConfig.Region

	logger.Debug().
		Str("environment", config.Environment).
		Str("region", config.Region).
		Int("subnets", len(config.SubnetIDs)).
		Str("launch_template", config.LaunchTemplateName).
		Bool("rollback_on_config_failure", config.RollbackOnConfigFailure).
		Msg("Fleet configuration loaded")

	return config, nil
}
