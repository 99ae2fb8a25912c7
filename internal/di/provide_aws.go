package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/services"
)

// ProvideAWSConfig loads the default AWS config. The region is resolved once
// here: the config file's region, then --region, then the default chain. A
// non-empty role is assumed through STS for every client built from the
// returned config.
func ProvideAWSConfig(ctx context.Context, region Region, role RoleARN, configFile ConfigFile) (aws.Config, error) {
	if configFile != "" {
		fileRegion, err := services.ConfigFileRegion(string(configFile))
		if err != nil {
			return aws.Config{}, err
		}
		if fileRegion != "" {
			region = Region(fileRegion)
		}
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(string(region)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if role != "" {
		zerolog.Ctx(ctx).Info().Str("role_arn", string(role)).Msg("Assuming role for AWS calls")
		creds := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), string(role))
		cfg.Credentials = aws.NewCredentialsCache(creds)
	}

	return cfg, nil
}

// ProvideEC2Client provides an EC2 client in the resolved AWS region
func ProvideEC2Client(awsConfig aws.Config) *ec2.Client {
	return ec2.NewFromConfig(awsConfig)
}
