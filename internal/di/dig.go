// Package di wires runner-fleet's clients, configuration, and adapter with go.uber.org/dig.
package di

import (
	"fmt"

	"go.uber.org/dig"
)

// Container is the subset of *dig.Container used by the binaries
type Container interface {
	Invoke(function any, opts ...dig.InvokeOption) error
	Provide(constructor any, opts ...dig.ProvideOption) error
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet resolves T from the container and panics when it cannot be built.
// Construction errors (bad credentials, unreadable config file) surface here.
//
//	config := MustGet[*services.Config](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// New returns a container for env. env is injectable as a plain string; the
// option values are injectable as Region, RoleARN and ConfigFile. Nothing is
// constructed until a value is requested.
//
//	container, err := New("prd", WithRegion("us-east-1"))
//	adapter := MustGet[*fleet.Adapter](container)
func New(env string, opts ...Option) (Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	values := []any{
		func() string { return env },
		func() Region { return o.region },
		func() RoleARN { return o.roleARN },
		func() ConfigFile { return o.configFile },
	}

	container := dig.New()
	for _, group := range [][]any{values, core, o.providers} {
		for _, provider := range group {
			if err := container.Provide(provider); err != nil {
				return nil, fmt.Errorf("failed to register provider: %w", err)
			}
		}
	}

	return container, nil
}

// core holds the providers shared by every runner-fleet binary
var core = []any{
	ProvideLogger,
	ProvideContext,
	ProvideAWSConfig,
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideAppConfig,
	ProvideEC2Client,
	ProvideLaunchPolicy,
	ProvideFleet,
}
