package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog"
	"github.com/savaki/runner-fleet/internal/constants"
	fleeterrors "github.com/savaki/runner-fleet/internal/errors"
)

// Config holds the fleet configuration consumed by the runner adapter
type Config struct {
	Environment             string   `yaml:"environment"`
	Region                  string   `yaml:"region"`
	SubnetIDs               []string `yaml:"subnet_ids"`
	LaunchTemplateName      string   `yaml:"launch_template_name"`
	AllowedOwners           []string `yaml:"allowed_owners"`
	RollbackOnConfigFailure bool     `yaml:"rollback_on_config_failure"`
}

// SSMClient is the subset of the SSM API used by SSMParameterStore
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// ParameterStore defines the interface for reading and writing runner parameters
type ParameterStore interface {
	// GetParameter retrieves a single decrypted parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// PutSecureParameter stores value encrypted at rest under name
	PutSecureParameter(ctx context.Context, name, value string) error

	// GetConfig loads the fleet configuration
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client SSMClient
	env    string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMClient, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	zerolog.Ctx(ctx).Debug().Str("parameter", name).Msg(constants.NATWarning)

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", fleeterrors.ErrParameterNotFound, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", fleeterrors.ErrParameterNotFound, name)
	}

	return *result.Parameter.Value, nil
}

// PutSecureParameter writes a SecureString parameter. Existing parameters are
// not overwritten; instance ids are never reused so a collision is a bug.
func (s *SSMParameterStore) PutSecureParameter(ctx context.Context, name, value string) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:  aws.String(name),
		Value: aws.String(value),
		Type:  ssmtypes.ParameterTypeSecureString,
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}
	return nil
}

// GetConfig loads all fleet configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/runner-fleet", s.env)

	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
		}

		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = *param.Value
			}
		}
	}

	key := func(name string) string {
		return params[path+"/"+name]
	}

	config := &Config{
		Environment:             s.env,
		SubnetIDs:               SplitList(key("subnet-ids")),
		LaunchTemplateName:      key("launch-template-name"),
		AllowedOwners:           SplitList(key("allowed-owners")),
		RollbackOnConfigFailure: parseBool(key("rollback-on-config-failure"), true),
	}

	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables
// This is a NoOp implementation for local development without AWS connection
type EnvParameterStore struct {
	env    string
	mu     sync.RWMutex
	values map[string]string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env:    env,
		values: make(map[string]string),
	}
}

// GetParameter returns a previously written value, falling back to the
// environment variable of the same name
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	e.mu.RLock()
	value, ok := e.values[name]
	e.mu.RUnlock()
	if ok {
		return value, nil
	}

	if value, ok := os.LookupEnv(name); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", fleeterrors.ErrParameterNotFound, name)
}

// PutSecureParameter keeps the value in process memory only
func (e *EnvParameterStore) PutSecureParameter(ctx context.Context, name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.values[name] = value
	return nil
}

// GetConfig loads all fleet configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{
		Environment:             e.env,
		Region:                  os.Getenv("AWS_REGION"),
		SubnetIDs:               SplitList(os.Getenv("SUBNET_IDS")),
		LaunchTemplateName:      os.Getenv("LAUNCH_TEMPLATE_NAME"),
		AllowedOwners:           SplitList(os.Getenv("ALLOWED_OWNERS")),
		RollbackOnConfigFailure: parseBool(os.Getenv("ROLLBACK_ON_CONFIG_FAILURE"), true),
	}

	return config, nil
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty entries
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
