package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/savaki/runner-fleet/internal/di"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// GlobalFlags returns the flags shared by every command
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "env",
			Aliases:  []string{"e"},
			Usage:    "Fleet environment (dev, stg, or prd) - selects the /<env>/runner-fleet configuration path",
			Required: true,
			EnvVars:  []string{"ENV", "ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "AWS region (defaults to the AWS config chain)",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "role-arn",
			Usage:   "IAM role to assume for all AWS calls",
			EnvVars: []string{"ROLE_ARN"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML file overlaid on the loaded fleet configuration",
			EnvVars: []string{"RUNNER_FLEET_CONFIG"},
		},
	}
}

func newContainer(c *cli.Context) (di.Container, error) {
	return di.New(c.String("env"),
		di.WithRegion(c.String("region")),
		di.WithRoleARN(c.String("role-arn")),
		di.WithConfigFile(c.String("config")),
	)
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output as JSON",
		},
		&cli.BoolFlag{
			Name:  "yaml",
			Usage: "Output as YAML",
		},
	}
}

// encode writes v as YAML or JSON when requested. It reports whether it wrote anything.
func encode(c *cli.Context, w io.Writer, v any) (bool, error) {
	switch {
	case c.Bool("yaml"):
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return false, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return true, encoder.Close()
	case c.Bool("json"):
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(v); err != nil {
			return false, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return true, nil
	}
	return false, nil
}
