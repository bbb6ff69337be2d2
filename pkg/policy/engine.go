package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "governance/admission").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	Logger  *slog.Logger
}

// Engine evaluates admission decisions using an embedded OPA instance.
type Engine struct {
	entrypoint string
	prepared   rego.PreparedEvalQuery
	logger     *slog.Logger
}

// DefaultEntrypoint is used when EngineOptions.Entrypoint is empty.
const DefaultEntrypoint = "governance/admission"

// NewEngine parses and compiles the modules for the entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.Trim(strings.TrimSpace(opts.Entrypoint), "/")
	if entry == "" {
		entry = DefaultEntrypoint
	}
	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return &Engine{entrypoint: entry, prepared: prepared, logger: logger}, nil
}

// Evaluate runs the admission rules against input. An undefined result admits.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.prepared.Eval(ctx, rego.EvalInput(input.document()))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("admission policy undefined, allowing", "entrypoint", e.entrypoint)
		return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
	}

	payload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	action := ActionAllow
	if raw, present := payload["allow"]; present {
		allow, ok := raw.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("opa decision: allow must be boolean, got %T", raw)
		}
		if !allow {
			action = ActionDeny
		}
	}
	reason, _ := payload["reason"].(string)

	e.logger.Debug("admission policy evaluated",
		"entrypoint", e.entrypoint,
		"action", string(action),
		"kind", input.Kind,
	)
	return Decision{Action: action, Reason: reason, Metadata: parseMetadata(payload["metadata"])}, nil
}

// Entrypoint returns the decision path this engine evaluates.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

func parseMetadata(value any) map[string]string {
	typed, ok := value.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	result := make(map[string]string, len(typed))
	for key, raw := range typed {
		if str, ok := raw.(string); ok {
			result[key] = str
		}
	}
	return result
}
