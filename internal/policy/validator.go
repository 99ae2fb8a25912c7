package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
)

//go:embed runners.rego
var policyContent string

// LaunchRequest is the policy input describing a runner about to be launched
type LaunchRequest struct {
	Environment string `json:"environment"`
	RunnerType  string `json:"runner_type"`
	RunnerOwner string `json:"runner_owner"`
}

// Validator decides whether a runner may be launched
type Validator struct {
	allow      rego.PreparedEvalQuery
	violations rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// NewValidator prepares the launch policy. An empty allowedOwners admits
// every owner.
func NewValidator(allowedOwners []string) (*Validator, error) {
	ctx := context.Background()

	owners := make([]interface{}, 0, len(allowedOwners))
	for _, owner := range allowedOwners {
		owners = append(owners, owner)
	}
	data := map[string]interface{}{
		"allowed_owners": owners,
	}

	store := inmem.NewFromObject(data)
	prepare := func(query string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Query(query),
			rego.Module("runners.rego", policyContent),
			rego.Store(store),
		).PrepareForEval(ctx)
	}

	allow, err := prepare("data.runners.allow")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare launch policy: %w", err)
	}
	violations, err := prepare("data.runners.violations")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare launch policy violations: %w", err)
	}

	return &Validator{
		allow:      allow,
		violations: violations,
	}, nil
}

// ValidateLaunch evaluates req against the launch policy. Violations are
// only collected when the launch is denied.
func (v *Validator) ValidateLaunch(ctx context.Context, req LaunchRequest) (*ValidationResult, error) {
	input := rego.EvalInput(map[string]interface{}{
		"environment":  req.Environment,
		"runner_type":  req.RunnerType,
		"runner_owner": req.RunnerOwner,
	})

	rs, err := v.allow.Eval(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate launch policy: %w", err)
	}
	if allowed, ok := firstValue(rs).(bool); ok && allowed {
		return &ValidationResult{Allowed: true}, nil
	}

	rs, err = v.violations.Eval(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate launch policy violations: %w", err)
	}

	var violations []string
	switch value := firstValue(rs).(type) {
	case []interface{}:
		for _, item := range value {
			if msg, ok := item.(string); ok {
				violations = append(violations, msg)
			}
		}
	case map[string]interface{}:
		for msg := range value {
			violations = append(violations, msg)
		}
	}
	if len(violations) == 0 {
		violations = []string{"launch denied by policy"}
	}
	sort.Strings(violations)

	return &ValidationResult{
		Allowed:    false,
		Violations: violations,
	}, nil
}

func firstValue(rs rego.ResultSet) interface{} {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	return rs[0].Expressions[0].Value
}
