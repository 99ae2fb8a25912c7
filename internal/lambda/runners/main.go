package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/di"
	"github.com/savaki/runner-fleet/internal/fleet"
	"github.com/savaki/runner-fleet/internal/services"
	"github.com/urfave/cli/v2"
)

const (
	ActionList      = "list"
	ActionCreate    = "create"
	ActionTerminate = "terminate"
)

// Request is the Lambda input. Action selects which fields are read.
type Request struct {
	Action             string                       `json:"action"`
	Filters            *fleet.ListFilters           `json:"filters,omitempty"`
	Runner             *fleet.RunnerInputParameters `json:"runner,omitempty"`
	LaunchTemplateName string                       `json:"launch_template_name,omitempty"`
	InstanceID         string                       `json:"instance_id,omitempty"`
}

// Response is the Lambda output. Error is set when a create launched
// instances but could not store all of their configuration; Created still
// lists what was launched.
type Response struct {
	Runners    []fleet.Runner      `json:"runners"`
	Created    *fleet.CreateResult `json:"created,omitempty"`
	Terminated string              `json:"terminated,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// RunnerFleet abstracts the adapter for testing
type RunnerFleet interface {
	ListRunners(ctx context.Context, filters *fleet.ListFilters) ([]fleet.Runner, error)
	CreateRunner(ctx context.Context, params fleet.RunnerInputParameters, launchTemplateName string) (*fleet.CreateResult, error)
	TerminateRunner(ctx context.Context, instanceID string) error
}

// Handler dispatches runner requests to the fleet adapter
type Handler struct {
	fleet  RunnerFleet
	config *services.Config
}

func NewHandler(fleet RunnerFleet, config *services.Config) *Handler {
	return &Handler{
		fleet:  fleet,
		config: config,
	}
}

func (h *Handler) HandleRequest(ctx context.Context, req *Request) (*Response, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("action", req.Action).Msg("Handling runner request")

	switch req.Action {
	case ActionList:
		runners, err := h.fleet.ListRunners(ctx, req.Filters)
		if err != nil {
			return nil, err
		}
		if runners == nil {
			runners = []fleet.Runner{}
		}
		return &Response{Runners: runners}, nil

	case ActionCreate:
		if req.Runner == nil {
			return nil, fmt.Errorf("create requires runner parameters")
		}
		params := *req.Runner
		if params.Environment == "" {
			params.Environment = h.config.Environment
		}
		launchTemplate := req.LaunchTemplateName
		if launchTemplate == "" {
			launchTemplate = h.config.LaunchTemplateName
		}

		result, err := h.fleet.CreateRunner(ctx, params, launchTemplate)
		if err != nil {
			var writeErr *fleet.ConfigWriteError
			if errors.As(err, &writeErr) && result != nil {
				logger.Error().Err(err).
					Strs("configured", result.Configured).
					Strs("terminated", result.TerminatedOnFailure).
					Msg("Runner launched without configuration")
				return &Response{Created: result, Error: err.Error()}, nil
			}
			return nil, err
		}
		return &Response{Created: result}, nil

	case ActionTerminate:
		if err := h.fleet.TerminateRunner(ctx, req.InstanceID); err != nil {
			return nil, err
		}
		return &Response{Terminated: req.InstanceID}, nil

	default:
		return nil, fmt.Errorf("unknown action: %q", req.Action)
	}
}

type HandlerFunc func(context.Context, *Request) (*Response, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		ctx = logger.WithContext(ctx)
		return handler(ctx, req)
	}
}

func newHandler(c *cli.Context) (*Handler, zerolog.Logger, error) {
	container, err := di.New(c.String("env"))
	if err != nil {
		return nil, zerolog.Logger{}, err
	}

	var (
		logger  = di.MustGet[zerolog.Logger](container).With().Str("lambda", "runners").Logger()
		adapter = di.MustGet[*fleet.Adapter](container)
		config  = di.MustGet[*services.Config](container)
	)

	return NewHandler(adapter, config), logger, nil
}

func lambdaAction(c *cli.Context) error {
	handler, logger, err := newHandler(c)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	lambda.Start(withLogger(handler.HandleRequest, logger))
	return nil
}

func runAction(c *cli.Context) error {
	handler, logger, err := newHandler(c)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	var req Request
	if err := json.Unmarshal([]byte(c.String("request")), &req); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}

	ctx := logger.WithContext(context.Background())
	resp, err := handler.HandleRequest(ctx, &req)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

func main() {
	app := &cli.App{
		Name:           "runners",
		Usage:          "List, launch, and terminate EC2 CI runners",
		DefaultCommand: "lambda",
		Commands: []*cli.Command{
			{
				Name:  "lambda",
				Usage: "Start Lambda handler",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV", "ENVIRONMENT"},
						Required: true,
					},
				},
				Action: lambdaAction,
			},
			{
				Name:  "run",
				Usage: "Run locally for testing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV", "ENVIRONMENT"},
						Required: true,
					},
					&cli.StringFlag{
						Name:     "request",
						Usage:    `Request JSON, e.g. {"action":"list"}`,
						EnvVars:  []string{"REQUEST"},
						Required: true,
					},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
