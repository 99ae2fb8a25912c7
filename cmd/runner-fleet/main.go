package main

import (
	"context"
	"os"

	"github.com/savaki/runner-fleet/cmd/runner-fleet/commands"
	"github.com/savaki/runner-fleet/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "runner-fleet",
		Usage: "Manage ephemeral EC2 CI runners",
		Description: `Launch, list, and terminate ephemeral EC2 instances that run CI jobs.

Each runner is launched from a launch template into a random configured subnet and
tagged Application=github-action-runner, Type=Org|Repo, Owner=<owner>. Its runner
configuration is stored in SSM Parameter Store as a SecureString named
<environment>-<instance-id>.`,
		Flags: commands.GlobalFlags(),
		Commands: []*cli.Command{
			commands.ListCommand(&logger),
			commands.CreateCommand(&logger),
			commands.TerminateCommand(&logger),
			commands.GetParameterCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
