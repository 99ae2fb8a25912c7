package errors

import "errors"

var (
	ErrNoSubnets              = errors.New("no subnets configured (SUBNET_IDS)")
	ErrLaunchTemplateRequired = errors.New("launch template name is required")
	ErrInvalidRunnerType      = errors.New("runner type must be Org or Repo")
	ErrRunnerOwnerRequired    = errors.New("runner owner is required")
	ErrEnvironmentRequired    = errors.New("environment is required")
	ErrRunnerConfigRequired   = errors.New("runner service configuration is required")
	ErrInstanceIDRequired     = errors.New("instance id is required")
	ErrParameterNotFound      = errors.New("parameter not found")
	ErrLaunchDenied           = errors.New("runner launch denied by policy")
	ErrUnexpectedAWSResponse  = errors.New("unexpected AWS API response")
)
