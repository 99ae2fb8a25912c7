package di

// Region overrides the AWS region resolved by the default config chain
type Region string

// RoleARN is an IAM role assumed for all AWS calls when non-empty
type RoleARN string

// ConfigFile is a YAML file overlaid on the loaded fleet configuration
type ConfigFile string

// Option configures New
type Option func(*options)

func WithRegion(region string) Option {
	return func(opts *options) {
		opts.region = Region(region)
	}
}

func WithRoleARN(arn string) Option {
	return func(opts *options) {
		opts.roleARN = RoleARN(arn)
	}
}

func WithConfigFile(path string) Option {
	return func(opts *options) {
		opts.configFile = ConfigFile(path)
	}
}

// WithProviders registers extra constructors after the core providers. A
// constructor returning a type the core already provides makes New fail.
//
//	WithProviders(func(a *fleet.Adapter) RunnerFleet { return a })
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	region     Region
	roleARN    RoleARN
	configFile ConfigFile
	providers  []any
}
