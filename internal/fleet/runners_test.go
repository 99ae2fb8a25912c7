package fleet

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	fleeterrors "github.com/savaki/runner-fleet/internal/errors"
	"github.com/savaki/runner-fleet/internal/policy"
	"github.com/savaki/runner-fleet/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type mockEC2Client struct {
	describeInstancesFunc  func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	runInstancesFunc       func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	terminateInstancesFunc func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)

	runCalls       int
	terminateCalls [][]string
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.describeInstancesFunc != nil {
		return m.describeInstancesFunc(ctx, params, optFns...)
	}
	return nil, errors.New("describeInstancesFunc not set")
}

func (m *mockEC2Client) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	m.runCalls++
	if m.runInstancesFunc != nil {
		return m.runInstancesFunc(ctx, params, optFns...)
	}
	return nil, errors.New("runInstancesFunc not set")
}

func (m *mockEC2Client) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	m.terminateCalls = append(m.terminateCalls, params.InstanceIds)
	if m.terminateInstancesFunc != nil {
		return m.terminateInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

type mockParameterWriter struct {
	mu      sync.Mutex
	written map[string]string
	failFor map[string]error
}

func (m *mockParameterWriter) PutSecureParameter(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failFor[name]; ok {
		return err
	}
	if m.written == nil {
		m.written = map[string]string{}
	}
	m.written[name] = value
	return nil
}

type mockValidator struct {
	result *policy.ValidationResult
	err    error
}

func (m *mockValidator) ValidateLaunch(ctx context.Context, req policy.LaunchRequest) (*policy.ValidationResult, error) {
	return m.result, m.err
}

// Helper to create a test context with logger
func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func testConfig(subnets ...string) *services.Config {
	return &services.Config{
		Environment:             "dev",
		SubnetIDs:               subnets,
		LaunchTemplateName:      "github-runner",
		RollbackOnConfigFailure: true,
	}
}

func instance(id string, tags map[string]string) ec2types.Instance {
	var ec2Tags []ec2types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return ec2types.Instance{InstanceId: aws.String(id), Tags: ec2Tags}
}

func filterMap(filters []ec2types.Filter) map[string][]string {
	m := map[string][]string{}
	for _, f := range filters {
		m[aws.ToString(f.Name)] = f.Values
	}
	return m
}

// matchesFilters emulates EC2 tag filtering over a fixture
func matchesFilters(inst ec2types.Instance, filters []ec2types.Filter) bool {
	tags := NewTagSet(inst.Tags)
	for _, f := range filters {
		name := aws.ToString(f.Name)
		if len(name) <= 4 || name[:4] != "tag:" {
			continue
		}
		v, ok := tags.Get(name[4:])
		if !ok {
			return false
		}
		matched := false
		for _, want := range f.Values {
			if v == want {
				matched = true
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func fixtureClient(instances ...ec2types.Instance) *mockEC2Client {
	return &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			var matched []ec2types.Instance
			for _, inst := range instances {
				if matchesFilters(inst, params.Filters) {
					matched = append(matched, inst)
				}
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: matched}},
			}, nil
		},
	}
}

func validParams() RunnerInputParameters {
	return RunnerInputParameters{
		RunnerServiceConfig: "--url https://github.com/acme/x --token abc",
		Environment:         "dev",
		RunnerType:          RunnerTypeRepo,
		RunnerOwner:         "acme/x",
	}
}

// Tests for ListRunners

func TestListRunners_Filters(t *testing.T) {
	tests := []struct {
		name    string
		filters *ListFilters
		want    map[string][]string
	}{
		{
			name:    "nil filters",
			filters: nil,
			want: map[string][]string{
				"tag:Application":     {"github-action-runner"},
				"instance-state-name": {"running", "pending"},
			},
		},
		{
			name:    "environment",
			filters: &ListFilters{Environment: "prd"},
			want: map[string][]string{
				"tag:Application":     {"github-action-runner"},
				"instance-state-name": {"running", "pending"},
				"tag:Environment":     {"prd"},
			},
		},
		{
			name:    "type without owner is ignored",
			filters: &ListFilters{RunnerType: RunnerTypeOrg},
			want: map[string][]string{
				"tag:Application":     {"github-action-runner"},
				"instance-state-name": {"running", "pending"},
			},
		},
		{
			name:    "owner without type is ignored",
			filters: &ListFilters{RunnerOwner: "acme"},
			want: map[string][]string{
				"tag:Application":     {"github-action-runner"},
				"instance-state-name": {"running", "pending"},
			},
		},
		{
			name:    "type and owner",
			filters: &ListFilters{RunnerType: RunnerTypeRepo, RunnerOwner: "acme/x", Environment: "dev"},
			want: map[string][]string{
				"tag:Application":     {"github-action-runner"},
				"instance-state-name": {"running", "pending"},
				"tag:Environment":     {"dev"},
				"tag:Type":            {"Repo"},
				"tag:Owner":           {"acme/x"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []ec2types.Filter
			client := &mockEC2Client{
				describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
					got = params.Filters
					return &ec2.DescribeInstancesOutput{}, nil
				},
			}

			runners, err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).ListRunners(testContext(), tt.filters)
			require.NoError(t, err)
			assert.Empty(t, runners)
			assert.Len(t, got, len(tt.want))
			assert.Equal(t, tt.want, filterMap(got))
		})
	}
}

func TestListRunners_OwnerAndType(t *testing.T) {
	runnerTags := func(typ, owner string) map[string]string {
		return map[string]string{"Application": "github-action-runner", "Type": typ, "Owner": owner}
	}
	client := fixtureClient(
		instance("i-1", runnerTags("Repo", "acme/x")),
		instance("i-2", runnerTags("Repo", "acme/x")),
		instance("i-3", runnerTags("Org", "acme")),
	)

	adapter := New(client, &mockParameterWriter{}, testConfig("subnet-a"))
	runners, err := adapter.ListRunners(testContext(), &ListFilters{RunnerType: RunnerTypeRepo, RunnerOwner: "acme/x"})
	require.NoError(t, err)

	var ids []string
	for _, r := range runners {
		ids = append(ids, r.InstanceID)
		assert.Equal(t, "Repo", r.Type)
		assert.Equal(t, "acme/x", r.Owner)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"i-1", "i-2"}, ids)
}

func TestListRunners_ExtractsTags(t *testing.T) {
	launched := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	full := instance("i-full", map[string]string{
		"Application": "github-action-runner",
		"Type":        "Repo",
		"Owner":       "acme/x",
		"Repo":        "acme/x",
		"Org":         "acme",
	})
	full.LaunchTime = &launched
	bare := ec2types.Instance{
		InstanceId: aws.String("i-bare"),
		Tags: []ec2types.Tag{
			{Key: aws.String("Application"), Value: aws.String("github-action-runner")},
			{Key: aws.String("Broken"), Value: nil},
		},
	}

	client := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{
					{Instances: []ec2types.Instance{full}},
					{Instances: []ec2types.Instance{bare}},
				},
			}, nil
		},
	}

	runners, err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).ListRunners(testContext(), nil)
	require.NoError(t, err)
	require.Len(t, runners, 2)

	assert.Equal(t, "i-full", runners[0].InstanceID)
	require.NotNil(t, runners[0].LaunchTime)
	assert.True(t, launched.Equal(*runners[0].LaunchTime))
	assert.Equal(t, "acme/x", runners[0].Owner)
	assert.Equal(t, "Repo", runners[0].Type)
	assert.Equal(t, "acme/x", runners[0].Repo)
	assert.Equal(t, "acme", runners[0].Org)

	assert.Equal(t, "i-bare", runners[1].InstanceID)
	assert.Nil(t, runners[1].LaunchTime)
	assert.Empty(t, runners[1].Owner)
	assert.Empty(t, runners[1].Type)
	_, ok := runners[1].Tags.Get("Owner")
	assert.False(t, ok)
	_, ok = runners[1].Tags.Get("Broken")
	assert.False(t, ok)
}

func TestListRunners_Paginates(t *testing.T) {
	var tokens []string
	client := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			tokens = append(tokens, aws.ToString(params.NextToken))
			if params.NextToken == nil {
				return &ec2.DescribeInstancesOutput{
					Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{instance("i-1", nil)}}},
					NextToken:    aws.String("page-2"),
				}, nil
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{instance("i-2", nil)}}},
			}, nil
		},
	}

	runners, err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).ListRunners(testContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "page-2"}, tokens)
	require.Len(t, runners, 2)
	assert.Equal(t, "i-1", runners[0].InstanceID)
	assert.Equal(t, "i-2", runners[1].InstanceID)
}

func TestListRunners_Error(t *testing.T) {
	boom := errors.New("access denied")
	client := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return nil, boom
		},
	}

	runners, err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).ListRunners(testContext(), nil)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, runners)
}

// Tests for CreateRunner

func TestCreateRunner_Success(t *testing.T) {
	var got *ec2.RunInstancesInput
	client := &mockEC2Client{
		runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			got = params
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{{InstanceId: aws.String("i-abc")}},
			}, nil
		},
	}
	params := &mockParameterWriter{}

	adapter := New(client, params, testConfig("subnet-a", "subnet-b", "subnet-c"),
		WithClientToken(func() string { return "token-1" }),
	)
	result, err := adapter.CreateRunner(testContext(), validParams(), "github-runner")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, int32(1), aws.ToInt32(got.MinCount))
	assert.Equal(t, int32(1), aws.ToInt32(got.MaxCount))
	assert.Equal(t, "token-1", aws.ToString(got.ClientToken))
	assert.Equal(t, "github-runner", aws.ToString(got.LaunchTemplate.LaunchTemplateName))
	assert.Equal(t, "$Default", aws.ToString(got.LaunchTemplate.Version))
	assert.Contains(t, []string{"subnet-a", "subnet-b", "subnet-c"}, aws.ToString(got.SubnetId))

	require.Len(t, got.TagSpecifications, 1)
	assert.Equal(t, ec2types.ResourceTypeInstance, got.TagSpecifications[0].ResourceType)
	assert.Equal(t, TagSet{
		"Application": "github-action-runner",
		"Type":        "Repo",
		"Owner":       "acme/x",
	}, NewTagSet(got.TagSpecifications[0].Tags))
	assert.Len(t, got.TagSpecifications[0].Tags, 3)

	assert.Equal(t, []string{"i-abc"}, result.InstanceIDs)
	assert.Equal(t, []string{"i-abc"}, result.Configured)
	assert.Empty(t, result.Failed)
	assert.Equal(t, map[string]string{"dev-i-abc": validParams().RunnerServiceConfig}, params.written)
}

func TestCreateRunner_SingleSubnet(t *testing.T) {
	var subnets []string
	client := &mockEC2Client{
		runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			subnets = append(subnets, aws.ToString(params.SubnetId))
			return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: aws.String("i-1")}}}, nil
		},
	}

	adapter := New(client, &mockParameterWriter{}, testConfig("subnet-only"))
	for i := 0; i < 20; i++ {
		_, err := adapter.CreateRunner(testContext(), validParams(), "github-runner")
		require.NoError(t, err)
	}
	for _, s := range subnets {
		assert.Equal(t, "subnet-only", s)
	}
}

func TestCreateRunner_SubnetIndex(t *testing.T) {
	var got string
	client := &mockEC2Client{
		runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			got = aws.ToString(params.SubnetId)
			return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: aws.String("i-1")}}}, nil
		},
	}

	var bound int
	adapter := New(client, &mockParameterWriter{}, testConfig("subnet-a", "subnet-b", "subnet-c"),
		WithIntN(func(n int) int {
			bound = n
			return n - 1
		}),
	)
	_, err := adapter.CreateRunner(testContext(), validParams(), "github-runner")
	require.NoError(t, err)
	assert.Equal(t, 3, bound)
	assert.Equal(t, "subnet-c", got)
}

func TestCreateRunner_MultipleInstances(t *testing.T) {
	client := &mockEC2Client{
		runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{
					{InstanceId: aws.String("i-1")},
					{InstanceId: aws.String("i-2")},
					{InstanceId: aws.String("i-3")},
				},
			}, nil
		},
	}
	params := &mockParameterWriter{}

	result, err := New(client, params, testConfig("subnet-a")).CreateRunner(testContext(), validParams(), "github-runner")
	require.NoError(t, err)
	assert.Equal(t, []string{"i-1", "i-2", "i-3"}, result.InstanceIDs)

	blob := validParams().RunnerServiceConfig
	assert.Equal(t, map[string]string{
		"dev-i-1": blob,
		"dev-i-2": blob,
		"dev-i-3": blob,
	}, params.written)
}

type countingWriter struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	written  int
	failFor  map[string]error
}

func (w *countingWriter) PutSecureParameter(ctx context.Context, name, value string) error {
	w.mu.Lock()
	w.inFlight++
	if w.inFlight > w.peak {
		w.peak = w.inFlight
	}
	w.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--
	if err, ok := w.failFor[name]; ok {
		return err
	}
	w.written++
	return nil
}

func TestStoreRunnerConfig(t *testing.T) {
	ids := []string{"i-0", "i-1", "i-2", "i-3", "i-4", "i-5", "i-6", "i-7", "i-8", "i-9"}

	t.Run("bounds concurrent writes", func(t *testing.T) {
		writer := &countingWriter{}
		adapter := New(&mockEC2Client{}, writer, testConfig("subnet-a"))

		errs := adapter.storeRunnerConfig(testContext(), validParams(), ids)
		assert.Nil(t, errs)
		assert.Equal(t, len(ids), writer.written)
		assert.LessOrEqual(t, writer.peak, maxConcurrentWrites)
	})

	t.Run("every write completes and errors align with ids", func(t *testing.T) {
		boom := errors.New("throttled")
		writer := &countingWriter{failFor: map[string]error{"dev-i-2": boom, "dev-i-7": boom}}
		adapter := New(&mockEC2Client{}, writer, testConfig("subnet-a"))

		errs := adapter.storeRunnerConfig(testContext(), validParams(), ids)
		require.Len(t, errs, len(ids))
		assert.Equal(t, len(ids)-2, writer.written)
		for i, err := range errs {
			if i == 2 || i == 7 {
				assert.ErrorIs(t, err, boom)
				continue
			}
			assert.NoError(t, err)
		}
	})
}

func TestCreateRunner_RunInstancesFails(t *testing.T) {
	boom := errors.New("insufficient capacity")
	client := &mockEC2Client{
		runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			return nil, boom
		},
	}
	params := &mockParameterWriter{}

	result, err := New(client, params, testConfig("subnet-a")).CreateRunner(testContext(), validParams(), "github-runner")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)
	assert.Empty(t, params.written)
	assert.Empty(t, client.terminateCalls)
}

func TestCreateRunner_ConfigWriteFails(t *testing.T) {
	newClient := func() *mockEC2Client {
		return &mockEC2Client{
			runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
				return &ec2.RunInstancesOutput{
					Instances: []ec2types.Instance{
						{InstanceId: aws.String("i-ok")},
						{InstanceId: aws.String("i-bad")},
					},
				}, nil
			},
		}
	}
	boom := errors.New("kms throttled")

	t.Run("rolls back unconfigured instances", func(t *testing.T) {
		client := newClient()
		params := &mockParameterWriter{failFor: map[string]error{"dev-i-bad": boom}}

		result, err := New(client, params, testConfig("subnet-a")).CreateRunner(testContext(), validParams(), "github-runner")

		var writeErr *ConfigWriteError
		require.ErrorAs(t, err, &writeErr)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"i-bad"}, writeErr.InstanceIDs)

		require.NotNil(t, result)
		assert.Equal(t, []string{"i-ok"}, result.Configured)
		assert.Contains(t, result.Failed, "i-bad")
		assert.Equal(t, []string{"i-bad"}, result.TerminatedOnFailure)
		assert.Equal(t, [][]string{{"i-bad"}}, client.terminateCalls)
	})

	t.Run("keeps instances when rollback disabled", func(t *testing.T) {
		client := newClient()
		params := &mockParameterWriter{failFor: map[string]error{"dev-i-bad": boom}}
		config := testConfig("subnet-a")
		config.RollbackOnConfigFailure = false

		result, err := New(client, params, config).CreateRunner(testContext(), validParams(), "github-runner")

		var writeErr *ConfigWriteError
		require.ErrorAs(t, err, &writeErr)
		assert.Empty(t, result.TerminatedOnFailure)
		assert.Empty(t, client.terminateCalls)
	})
}

func TestCreateRunner_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *RunnerInputParameters)
		template string
		config   *services.Config
		wantErr  error
	}{
		{
			name:     "missing config blob",
			mutate:   func(p *RunnerInputParameters) { p.RunnerServiceConfig = "" },
			template: "github-runner",
			config:   testConfig("subnet-a"),
			wantErr:  fleeterrors.ErrRunnerConfigRequired,
		},
		{
			name:     "missing environment",
			mutate:   func(p *RunnerInputParameters) { p.Environment = "" },
			template: "github-runner",
			config:   testConfig("subnet-a"),
			wantErr:  fleeterrors.ErrEnvironmentRequired,
		},
		{
			name:     "missing owner",
			mutate:   func(p *RunnerInputParameters) { p.RunnerOwner = "" },
			template: "github-runner",
			config:   testConfig("subnet-a"),
			wantErr:  fleeterrors.ErrRunnerOwnerRequired,
		},
		{
			name:     "bad type",
			mutate:   func(p *RunnerInputParameters) { p.RunnerType = "Enterprise" },
			template: "github-runner",
			config:   testConfig("subnet-a"),
			wantErr:  fleeterrors.ErrInvalidRunnerType,
		},
		{
			name:     "missing template",
			mutate:   func(p *RunnerInputParameters) {},
			template: "",
			config:   testConfig("subnet-a"),
			wantErr:  fleeterrors.ErrLaunchTemplateRequired,
		},
		{
			name:     "no subnets",
			mutate:   func(p *RunnerInputParameters) {},
			template: "github-runner",
			config:   testConfig(),
			wantErr:  fleeterrors.ErrNoSubnets,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockEC2Client{}
			p := validParams()
			tt.mutate(&p)

			_, err := New(client, &mockParameterWriter{}, tt.config).CreateRunner(testContext(), p, tt.template)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, client.runCalls)
		})
	}
}

func TestCreateRunner_PolicyDenied(t *testing.T) {
	client := &mockEC2Client{}
	validator := &mockValidator{result: &policy.ValidationResult{
		Allowed:    false,
		Violations: []string{`owner "acme/x" is not permitted to launch runners`},
	}}

	_, err := New(client, &mockParameterWriter{}, testConfig("subnet-a"), WithValidator(validator)).
		CreateRunner(testContext(), validParams(), "github-runner")
	assert.ErrorIs(t, err, fleeterrors.ErrLaunchDenied)
	assert.Contains(t, err.Error(), "not permitted")
	assert.Zero(t, client.runCalls)
}

func TestCreateRunner_PolicyAllowed(t *testing.T) {
	client := &mockEC2Client{
		runInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: aws.String("i-1")}}}, nil
		},
	}
	validator, err := policy.NewValidator([]string{"acme"})
	require.NoError(t, err)

	_, err = New(client, &mockParameterWriter{}, testConfig("subnet-a"), WithValidator(validator)).
		CreateRunner(testContext(), validParams(), "github-runner")
	require.NoError(t, err)
	assert.Equal(t, 1, client.runCalls)
}

// Tests for TerminateRunner

func TestTerminateRunner(t *testing.T) {
	client := &mockEC2Client{}

	err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).TerminateRunner(testContext(), "i-123")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"i-123"}}, client.terminateCalls)
}

func TestTerminateRunner_NotFound(t *testing.T) {
	client := &mockEC2Client{
		terminateInstancesFunc: func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "gone"}
		},
	}

	err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).TerminateRunner(testContext(), "i-gone")
	assert.NoError(t, err)
}

func TestTerminateRunner_Errors(t *testing.T) {
	t.Run("empty id", func(t *testing.T) {
		client := &mockEC2Client{}
		err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).TerminateRunner(testContext(), "")
		assert.ErrorIs(t, err, fleeterrors.ErrInstanceIDRequired)
		assert.Empty(t, client.terminateCalls)
	})

	t.Run("permission denied", func(t *testing.T) {
		denied := &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "no"}
		client := &mockEC2Client{
			terminateInstancesFunc: func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
				return nil, denied
			},
		}
		err := New(client, &mockParameterWriter{}, testConfig("subnet-a")).TerminateRunner(testContext(), "i-1")
		assert.ErrorIs(t, err, denied)
	})
}

func TestSortRunners(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	runners := []Runner{
		{InstanceID: "unknown"},
		{InstanceID: "newer", LaunchTime: &newer},
		{InstanceID: "older", LaunchTime: &older},
	}

	SortRunners(runners)

	assert.Equal(t, "older", runners[0].InstanceID)
	assert.Equal(t, "newer", runners[1].InstanceID)
	assert.Equal(t, "unknown", runners[2].InstanceID)
}

func TestParameterName(t *testing.T) {
	assert.Equal(t, "prd-i-0abc", ParameterName("prd", "i-0abc"))
}
