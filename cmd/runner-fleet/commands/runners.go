package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/di"
	"github.com/savaki/runner-fleet/internal/fleet"
	"github.com/savaki/runner-fleet/internal/services"
	"github.com/urfave/cli/v2"
)

// ListCommand returns the list command for showing running runners
func ListCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"l", "ls"},
		Usage:   "List running and pending runners",
		Description: `List runner instances in the running or pending state.

--type and --owner only filter when given together.

Examples:
  # All runners
  runner-fleet --env dev list

  # Repo runners for one repository, oldest first, as JSON
  runner-fleet --env prd list --type Repo --owner acme/api --sort --json`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "environment-tag",
				Usage: "Only runners tagged Environment=<value>",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Runner type (Org or Repo)",
			},
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Runner owner (org, or org/repo)",
			},
			&cli.BoolFlag{
				Name:  "sort",
				Usage: "Sort by launch time, oldest first",
			},
		}, outputFlags()...),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	container, err := newContainer(c)
	if err != nil {
		return err
	}
	adapter := di.MustGet[*fleet.Adapter](container)

	filters := &fleet.ListFilters{
		Environment: c.String("environment-tag"),
		RunnerType:  fleet.RunnerType(c.String("type")),
		RunnerOwner: c.String("owner"),
	}

	runners, err := adapter.ListRunners(c.Context, filters)
	if err != nil {
		return err
	}
	if c.Bool("sort") {
		fleet.SortRunners(runners)
	}

	if ok, err := encode(c, os.Stdout, runners); ok || err != nil {
		return err
	}

	displayRunners(runners)
	return nil
}

func displayRunners(runners []fleet.Runner) {
	if len(runners) == 0 {
		fmt.Println("No runners found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE ID\tTYPE\tOWNER\tLAUNCHED")
	for _, r := range runners {
		launched := "-"
		if r.LaunchTime != nil {
			launched = r.LaunchTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.InstanceID, valueOrDash(r.Type), valueOrDash(r.Owner), launched)
	}
	_ = w.Flush()
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// CreateCommand returns the create command for launching a runner
func CreateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "create",
		Aliases: []string{"c", "launch"},
		Usage:   "Launch one runner and store its configuration",
		Description: `Launch a single runner from the launch template into a random configured subnet,
then store the runner configuration in Parameter Store as <environment>-<instance-id>.

If the configuration cannot be stored the instance is terminated unless
rollback_on_config_failure is disabled.

Examples:
  runner-fleet --env dev create --type Repo --owner acme/api \
    --runner-config "--url https://github.com/acme/api --token XXXX"

  runner-fleet --env prd create --type Org --owner acme --runner-config-file ./runner.conf`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Aliases:  []string{"t"},
				Usage:    "Runner type (Org or Repo)",
				Required: true,
				EnvVars:  []string{"RUNNER_TYPE"},
			},
			&cli.StringFlag{
				Name:     "owner",
				Aliases:  []string{"o"},
				Usage:    "Runner owner (org, or org/repo)",
				Required: true,
				EnvVars:  []string{"RUNNER_OWNER"},
			},
			&cli.StringFlag{
				Name:    "runner-config",
				Usage:   "Runner service configuration stored for the instance",
				EnvVars: []string{"RUNNER_SERVICE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "runner-config-file",
				Usage: "Read the runner service configuration from a file",
			},
			&cli.StringFlag{
				Name:    "launch-template",
				Usage:   "Launch template name (defaults to the configured launch_template_name)",
				EnvVars: []string{"LAUNCH_TEMPLATE_NAME"},
			},
		}, outputFlags()...),
		Action: createAction,
	}
}

func createAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)

	runnerConfig, err := readRunnerConfig(c)
	if err != nil {
		return err
	}

	container, err := newContainer(c)
	if err != nil {
		return err
	}

	var (
		adapter = di.MustGet[*fleet.Adapter](container)
		config  = di.MustGet[*services.Config](container)
	)

	launchTemplate := c.String("launch-template")
	if launchTemplate == "" {
		launchTemplate = config.LaunchTemplateName
	}

	params := fleet.RunnerInputParameters{
		RunnerServiceConfig: runnerConfig,
		Environment:         config.Environment,
		RunnerType:          fleet.RunnerType(c.String("type")),
		RunnerOwner:         c.String("owner"),
	}

	result, err := adapter.CreateRunner(c.Context, params, launchTemplate)
	if err != nil {
		var writeErr *fleet.ConfigWriteError
		if errors.As(err, &writeErr) && result != nil {
			logger.Error().
				Strs("configured", result.Configured).
				Strs("terminated", result.TerminatedOnFailure).
				Msg("Runner launched without configuration")
		}
		return err
	}

	if ok, err := encode(c, os.Stdout, result); ok || err != nil {
		return err
	}

	for _, id := range result.InstanceIDs {
		fmt.Printf("Created runner %s (parameter %s)\n", id, fleet.ParameterName(params.Environment, id))
	}
	return nil
}

func readRunnerConfig(c *cli.Context) (string, error) {
	if path := c.String("runner-config-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read runner config file: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	if v := c.String("runner-config"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("--runner-config or --runner-config-file is required")
}

// TerminateCommand returns the terminate command
func TerminateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "terminate",
		Aliases:   []string{"rm"},
		Usage:     "Terminate runner instances",
		ArgsUsage: "<instance-id> [instance-id...]",
		Description: `Terminate one or more runner instances. Instances EC2 no longer knows about are
treated as already terminated.

Examples:
  runner-fleet --env dev terminate i-0123456789abcdef0`,
		Action: terminateAction,
	}
}

func terminateAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one instance id is required")
	}

	container, err := newContainer(c)
	if err != nil {
		return err
	}
	adapter := di.MustGet[*fleet.Adapter](container)

	var errs []error
	for _, id := range c.Args().Slice() {
		if err := adapter.TerminateRunner(c.Context, id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Printf("Terminated %s\n", id)
	}
	return errors.Join(errs...)
}
