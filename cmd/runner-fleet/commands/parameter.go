package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/di"
	"github.com/savaki/runner-fleet/internal/fleet"
	"github.com/savaki/runner-fleet/internal/services"
	"github.com/urfave/cli/v2"
)

// GetParameterCommand returns the get-parameter command for reading a runner's stored configuration
func GetParameterCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "get-parameter",
		Aliases: []string{"param"},
		Usage:   "Print a decrypted parameter value",
		Description: `Print a decrypted Parameter Store value, either by name or by instance id.

Examples:
  runner-fleet --env dev get-parameter --name dev-i-0123456789abcdef0
  runner-fleet --env dev get-parameter --instance-id i-0123456789abcdef0`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Parameter name",
			},
			&cli.StringFlag{
				Name:    "instance-id",
				Aliases: []string{"i"},
				Usage:   "Runner instance id; reads <env>-<instance-id>",
			},
		},
		Action: getParameterAction,
	}
}

func getParameterAction(c *cli.Context) error {
	if c.String("name") == "" && c.String("instance-id") == "" {
		return fmt.Errorf("--name or --instance-id is required")
	}

	container, err := newContainer(c)
	if err != nil {
		return err
	}

	var (
		store  = di.MustGet[services.ParameterStore](container)
		config = di.MustGet[*services.Config](container)
	)

	name := parameterName(c.String("name"), c.String("instance-id"), config)
	value, err := store.GetParameter(c.Context, name)
	if err != nil {
		return err
	}

	fmt.Println(value)
	return nil
}

// parameterName resolves the parameter to read. An instance id maps to the
// same name create wrote, using the loaded configuration's environment.
func parameterName(name, instanceID string, config *services.Config) string {
	if name != "" {
		return name
	}
	return fleet.ParameterName(config.Environment, instanceID)
}
