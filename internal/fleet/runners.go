// Package fleet launches, lists, and terminates ephemeral EC2 runner instances.
//
// Every runner carries the tags Application=github-action-runner, Type and
// Owner. Listing relies on these tags; instances created out-of-band without
// them are invisible to the adapter.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/constants"
	fleeterrors "github.com/savaki/runner-fleet/internal/errors"
	"github.com/savaki/runner-fleet/internal/policy"
	"github.com/savaki/runner-fleet/internal/services"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"
)

// RunnerType is the scope a runner registers at
type RunnerType string

const (
	RunnerTypeOrg  RunnerType = "Org"
	RunnerTypeRepo RunnerType = "Repo"
)

// Valid reports whether t is Org or Repo
func (t RunnerType) Valid() bool {
	return t == RunnerTypeOrg || t == RunnerTypeRepo
}

// Runner describes a running or pending runner instance
type Runner struct {
	InstanceID string     `json:"instance_id" yaml:"instance_id"`
	LaunchTime *time.Time `json:"launch_time,omitempty" yaml:"launch_time,omitempty"`
	Owner      string     `json:"owner,omitempty" yaml:"owner,omitempty"`
	Type       string     `json:"type,omitempty" yaml:"type,omitempty"`
	Repo       string     `json:"repo,omitempty" yaml:"repo,omitempty"`
	Org        string     `json:"org,omitempty" yaml:"org,omitempty"`
	Tags       TagSet     `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ListFilters narrows ListRunners. RunnerType and RunnerOwner only apply
// when both are set.
type ListFilters struct {
	RunnerType  RunnerType `json:"runner_type,omitempty"`
	RunnerOwner string     `json:"runner_owner,omitempty"`
	Environment string     `json:"environment,omitempty"`
}

// RunnerInputParameters describes a runner to launch
type RunnerInputParameters struct {
	RunnerServiceConfig string     `json:"runner_service_config"`
	Environment         string     `json:"environment"`
	RunnerType          RunnerType `json:"runner_type"`
	RunnerOwner         string     `json:"runner_owner"`
}

// Validate checks the fields required to launch and configure a runner
func (p RunnerInputParameters) Validate() error {
	switch {
	case p.RunnerServiceConfig == "":
		return fleeterrors.ErrRunnerConfigRequired
	case p.Environment == "":
		return fleeterrors.ErrEnvironmentRequired
	case p.RunnerOwner == "":
		return fleeterrors.ErrRunnerOwnerRequired
	case !p.RunnerType.Valid():
		return fmt.Errorf("%w: got %q", fleeterrors.ErrInvalidRunnerType, p.RunnerType)
	}
	return nil
}

// CreateResult reports the instances launched by CreateRunner and whether
// each one received its configuration
type CreateResult struct {
	InstanceIDs         []string         `json:"instance_ids" yaml:"instance_ids"`
	Configured          []string         `json:"configured" yaml:"configured"`
	Failed              map[string]error `json:"-" yaml:"-"`
	TerminatedOnFailure []string         `json:"terminated_on_failure,omitempty" yaml:"terminated_on_failure,omitempty"`
}

// ConfigWriteError is returned when one or more launched instances could not
// have their configuration stored
type ConfigWriteError struct {
	InstanceIDs []string
	Err         error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("failed to store runner configuration for instance(s) %s: %v",
		strings.Join(e.InstanceIDs, ","), e.Err)
}

func (e *ConfigWriteError) Unwrap() error {
	return e.Err
}

// EC2Client defines the EC2 operations needed to manage runners
type EC2Client interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// ParameterWriter stores runner configuration encrypted at rest
type ParameterWriter interface {
	PutSecureParameter(ctx context.Context, name, value string) error
}

// LaunchValidator decides whether a runner may be launched
type LaunchValidator interface {
	ValidateLaunch(ctx context.Context, req policy.LaunchRequest) (*policy.ValidationResult, error)
}

// Adapter manages runner instances. It holds no state between calls.
type Adapter struct {
	ec2       EC2Client
	params    ParameterWriter
	config    *services.Config
	validator LaunchValidator
	intN      func(n int) int
	newToken  func() string
}

// Option configures an Adapter
type Option func(*Adapter)

// WithValidator evaluates every launch against v before calling EC2
func WithValidator(v LaunchValidator) Option {
	return func(a *Adapter) {
		a.validator = v
	}
}

// WithIntN replaces the random index source used for subnet selection
func WithIntN(fn func(n int) int) Option {
	return func(a *Adapter) {
		a.intN = fn
	}
}

// WithClientToken replaces the RunInstances idempotency token generator
func WithClientToken(fn func() string) Option {
	return func(a *Adapter) {
		a.newToken = fn
	}
}

// New creates a new Adapter
func New(ec2Client EC2Client, params ParameterWriter, config *services.Config, opts ...Option) *Adapter {
	a := &Adapter{
		ec2:    ec2Client,
		params: params,
		config: config,
		intN:   rand.IntN,
		newToken: func() string {
			return ksuid.New().String()
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ParameterName returns the Parameter Store key holding an instance's configuration
func ParameterName(environment, instanceID string) string {
	return environment + "-" + instanceID
}

// ListRunners returns every running or pending runner instance matching filters.
// A nil filters returns all runners.
func (a *Adapter) ListRunners(ctx context.Context, filters *ListFilters) ([]Runner, error) {
	logger := zerolog.Ctx(ctx)

	logger.Info().Msg(constants.NATWarning)

	input := &ec2.DescribeInstancesInput{
		Filters: buildFilters(filters),
	}

	runners := []Runner{}
	paginator := ec2.NewDescribeInstancesPaginator(a.ec2, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}

		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				runners = append(runners, newRunner(instance))
			}
		}
	}

	logger.Debug().Int("count", len(runners)).Msg("Listed runners")
	return runners, nil
}

func buildFilters(filters *ListFilters) []ec2types.Filter {
	ec2Filters := []ec2types.Filter{
		{Name: aws.String("tag:" + constants.TagApplication), Values: []string{constants.ApplicationRunner}},
		{Name: aws.String("instance-state-name"), Values: []string{"running", "pending"}},
	}
	if filters == nil {
		return ec2Filters
	}

	if filters.Environment != "" {
		ec2Filters = append(ec2Filters, ec2types.Filter{
			Name:   aws.String("tag:" + constants.TagEnvironment),
			Values: []string{filters.Environment},
		})
	}
	if filters.RunnerType != "" && filters.RunnerOwner != "" {
		ec2Filters = append(ec2Filters,
			ec2types.Filter{Name: aws.String("tag:" + constants.TagType), Values: []string{string(filters.RunnerType)}},
			ec2types.Filter{Name: aws.String("tag:" + constants.TagOwner), Values: []string{filters.RunnerOwner}},
		)
	}
	return ec2Filters
}

func newRunner(instance ec2types.Instance) Runner {
	tags := NewTagSet(instance.Tags)
	return Runner{
		InstanceID: aws.ToString(instance.InstanceId),
		LaunchTime: instance.LaunchTime,
		Owner:      tags.Value(constants.TagOwner),
		Type:       tags.Value(constants.TagType),
		Repo:       tags.Value(constants.TagRepo),
		Org:        tags.Value(constants.TagOrg),
		Tags:       tags,
	}
}

// CreateRunner launches one runner from launchTemplateName and stores its
// configuration under ParameterName(environment, instanceID).
//
// Configuration writes for all returned instances run concurrently and are
// awaited. If any write fails the returned error is a *ConfigWriteError and,
// when RollbackOnConfigFailure is set, the unconfigured instances are
// terminated. If the launch itself fails nothing is written.
func (a *Adapter) CreateRunner(ctx context.Context, params RunnerInputParameters, launchTemplateName string) (*CreateResult, error) {
	logger := zerolog.Ctx(ctx)

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if launchTemplateName == "" {
		return nil, fleeterrors.ErrLaunchTemplateRequired
	}

	if a.validator != nil {
		result, err := a.validator.ValidateLaunch(ctx, policy.LaunchRequest{
			Environment: params.Environment,
			RunnerType:  string(params.RunnerType),
			RunnerOwner: params.RunnerOwner,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate launch policy: %w", err)
		}
		if !result.Allowed {
			return nil, fmt.Errorf("%w: %s", fleeterrors.ErrLaunchDenied, strings.Join(result.Violations, "; "))
		}
	}

	subnetID, err := a.selectSubnet()
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("environment", params.Environment).
		Str("runner_type", string(params.RunnerType)).
		Str("runner_owner", params.RunnerOwner).
		Int("config_length", len(params.RunnerServiceConfig)).
		Str("subnet_id", subnetID).
		Str("launch_template", launchTemplateName).
		Msg("Runner configuration")
	logger.Info().Msg(constants.NATWarning)

	output, err := a.ec2.RunInstances(ctx, a.runInstancesInput(launchTemplateName, subnetID, params))
	if err != nil {
		return nil, fmt.Errorf("failed to run instances: %w", err)
	}

	var instanceIDs []string
	for _, instance := range output.Instances {
		if instance.InstanceId == nil {
			logger.Warn().Msg("RunInstances returned an instance without an id")
			continue
		}
		instanceIDs = append(instanceIDs, *instance.InstanceId)
	}
	if len(instanceIDs) == 0 {
		return nil, fmt.Errorf("%w: RunInstances returned no instances", fleeterrors.ErrUnexpectedAWSResponse)
	}

	logger.Info().Strs("instance_ids", instanceIDs).Msg("Created instance(s)")

	result := &CreateResult{
		InstanceIDs: instanceIDs,
		Failed:      map[string]error{},
	}

	errs := a.storeRunnerConfig(ctx, params, instanceIDs)
	var failed []string
	for i, id := range instanceIDs {
		if errs != nil && errs[i] != nil {
			result.Failed[id] = errs[i]
			failed = append(failed, id)
			continue
		}
		result.Configured = append(result.Configured, id)
	}
	if len(failed) == 0 {
		return result, nil
	}

	writeErr := &ConfigWriteError{
		InstanceIDs: failed,
		Err:         errors.Join(errs...),
	}
	logger.Error().Err(writeErr).Strs("instance_ids", failed).Msg("Runner configuration was not stored")

	if a.config.RollbackOnConfigFailure {
		for _, id := range failed {
			if err := a.TerminateRunner(ctx, id); err != nil {
				logger.Error().Err(err).Str("instance_id", id).Msg("Failed to terminate unconfigured runner")
				continue
			}
			result.TerminatedOnFailure = append(result.TerminatedOnFailure, id)
		}
	}

	return result, writeErr
}

// maxConcurrentWrites bounds the parameter writes in flight for one CreateRunner
const maxConcurrentWrites = 4

// storeRunnerConfig writes one parameter per instance. Every write runs to
// completion; on failure the returned slice holds the error for each
// instance, index-aligned with instanceIDs. It returns nil when all writes
// succeed.
func (a *Adapter) storeRunnerConfig(ctx context.Context, params RunnerInputParameters, instanceIDs []string) []error {
	errs := make([]error, len(instanceIDs))

	var g errgroup.Group
	g.SetLimit(maxConcurrentWrites)
	for i, id := range instanceIDs {
		g.Go(func() error {
			name := ParameterName(params.Environment, id)
			zerolog.Ctx(ctx).Debug().Str("parameter", name).Msg("Storing runner configuration")
			if err := a.params.PutSecureParameter(ctx, name, params.RunnerServiceConfig); err != nil {
				errs[i] = fmt.Errorf("instance %s: %w", id, err)
				return errs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}

	return errs
}

func (a *Adapter) runInstancesInput(launchTemplateName, subnetID string, params RunnerInputParameters) *ec2.RunInstancesInput {
	return &ec2.RunInstancesInput{
		MinCount:    aws.Int32(1),
		MaxCount:    aws.Int32(1),
		ClientToken: aws.String(a.newToken()),
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateName: aws.String(launchTemplateName),
			Version:            aws.String(constants.LaunchTemplateDefaultVersion),
		},
		SubnetId: aws.String(subnetID),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String(constants.TagApplication), Value: aws.String(constants.ApplicationRunner)},
					{Key: aws.String(constants.TagType), Value: aws.String(string(params.RunnerType))},
					{Key: aws.String(constants.TagOwner), Value: aws.String(params.RunnerOwner)},
				},
			},
		},
	}
}

func (a *Adapter) selectSubnet() (string, error) {
	if a.config == nil || len(a.config.SubnetIDs) == 0 {
		return "", fleeterrors.ErrNoSubnets
	}
	subnets := a.config.SubnetIDs
	return subnets[a.intN(len(subnets))], nil
}

// TerminateRunner terminates a single runner instance. Terminating an
// instance EC2 no longer knows about succeeds.
func (a *Adapter) TerminateRunner(ctx context.Context, instanceID string) error {
	logger := zerolog.Ctx(ctx)

	if instanceID == "" {
		return fleeterrors.ErrInstanceIDRequired
	}

	logger.Info().Msg(constants.NATWarning)
	_, err := a.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isInstanceNotFound(err) {
			logger.Warn().Str("instance_id", instanceID).Msg("Runner instance not found, treating as terminated")
			return nil
		}
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	logger.Info().Str("instance_id", instanceID).Msg("Runner has been terminated")
	return nil
}

func isInstanceNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
}

// SortRunners orders runners by launch time, oldest first, with unknown
// launch times last
func SortRunners(runners []Runner) {
	sort.SliceStable(runners, func(i, j int) bool {
		li, lj := runners[i].LaunchTime, runners[j].LaunchTime
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.Before(*lj)
		}
	})
}
