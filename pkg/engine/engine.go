package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/policy"
	"github.com/polisai/polis-dao/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine owns the governance settings and runs proposals through their
// lifecycle against a store.
type Engine struct {
	// mu serializes mutating calls; settingsMu guards the cached settings.
	mu         sync.Mutex
	settingsMu sync.RWMutex
	settings   domain.Settings

	store     domain.Store
	admission policy.Filter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAdmission installs an admission filter consulted by AddProposal.
func WithAdmission(filter policy.Filter) Option {
	return func(e *Engine) { e.admission = filter }
}

// WithTracer overrides the tracer. Defaults to telemetry.Tracer().
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// New loads the settings persisted in store. A store without settings is
// seeded with defaults, which must be valid.
func New(ctx context.Context, store domain.Store, defaults domain.Settings, opts ...Option) (*Engine, error) {
	const op = "engine.New"
	if store == nil {
		return nil, domain.NewError(op, fmt.Errorf("%w: store is required", domain.ErrInvalidInput), nil)
	}

	e := &Engine{
		store:  store,
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}

	settings, found, err := store.LoadSettings(ctx)
	if err != nil {
		return nil, domain.NewError(op, fmt.Errorf("load settings: %w", err), nil)
	}
	if found {
		if err := settings.Validate(); err != nil {
			return nil, domain.NewError(op, fmt.Errorf("stored settings: %w", err), nil)
		}
		e.settings = settings
		return e, nil
	}

	if err := defaults.Validate(); err != nil {
		return nil, domain.NewError(op, err, nil)
	}
	settings = defaults.Clone()
	if err := store.SaveSettings(ctx, settings); err != nil {
		return nil, domain.NewError(op, fmt.Errorf("save settings: %w", err), nil)
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "governance settings initialized",
		slog.Duration("vote_period", settings.VotePeriod),
		slog.Duration("grace_period", settings.GracePeriod),
		slog.Int("policy_tiers", len(settings.Policy)),
	)
	e.settings = settings
	return e, nil
}

// Settings returns a copy of the active settings.
func (e *Engine) Settings() domain.Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.Clone()
}

// VotePeriod is the voting window given to new proposals.
func (e *Engine) VotePeriod() time.Duration {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.VotePeriod
}

// GracePeriod is the extra window granted when a proposal enters delay.
func (e *Engine) GracePeriod() time.Duration {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.GracePeriod
}

// Policy returns a copy of the active policy table.
func (e *Engine) Policy() domain.PolicyTable {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.Policy.Clone()
}

func (e *Engine) swapSettings(settings domain.Settings) {
	e.settingsMu.Lock()
	e.settings = settings
	e.settingsMu.Unlock()
}

// GetProposal returns a copy of the proposal.
func (e *Engine) GetProposal(ctx context.Context, id domain.ProposalID) (*domain.Proposal, error) {
	p, err := e.store.GetProposal(ctx, id)
	if err != nil {
		return nil, domain.NewError("engine.GetProposal", err, map[string]any{"proposal_id": id})
	}
	return p, nil
}

// ListProposals returns up to limit proposals starting at id from.
func (e *Engine) ListProposals(ctx context.Context, from, limit uint64) ([]*domain.Proposal, error) {
	page, err := e.store.ListProposals(ctx, from, limit)
	if err != nil {
		return nil, domain.NewError("engine.ListProposals", err, nil)
	}
	return page, nil
}

// ListProposalsByStatus pages over the proposals currently in status.
func (e *Engine) ListProposalsByStatus(ctx context.Context, status domain.ProposalStatus, from, limit uint64) ([]*domain.Proposal, error) {
	return e.ListProposalsByStatuses(ctx, []domain.ProposalStatus{status}, from, limit)
}

// ListProposalsByStatuses pages over the proposals whose status is in
// statuses. from and limit index the filtered sequence.
func (e *Engine) ListProposalsByStatuses(ctx context.Context, statuses []domain.ProposalStatus, from, limit uint64) ([]*domain.Proposal, error) {
	page, err := e.store.ListProposalsByStatus(ctx, statuses, from, limit)
	if err != nil {
		return nil, domain.NewError("engine.ListProposalsByStatuses", err, nil)
	}
	return page, nil
}

// NumProposals is the number of proposals ever added.
func (e *Engine) NumProposals(ctx context.Context) (uint64, error) {
	n, err := e.store.CountProposals(ctx)
	if err != nil {
		return 0, domain.NewError("engine.NumProposals", err, nil)
	}
	return n, nil
}

// CouncilSize is the current number of council members.
func (e *Engine) CouncilSize(ctx context.Context) (uint64, error) {
	n, err := e.store.CouncilSize(ctx)
	if err != nil {
		return 0, domain.NewError("engine.CouncilSize", err, nil)
	}
	return n, nil
}

// CouncilMembers lists the council ordered by identity.
func (e *Engine) CouncilMembers(ctx context.Context) ([]domain.Member, error) {
	members, err := e.store.CouncilMembers(ctx)
	if err != nil {
		return nil, domain.NewError("engine.CouncilMembers", err, nil)
	}
	return members, nil
}

// Transfers lists the payouts initiated so far.
func (e *Engine) Transfers(ctx context.Context) ([]domain.Transfer, error) {
	transfers, err := e.store.ListTransfers(ctx)
	if err != nil {
		return nil, domain.NewError("engine.Transfers", err, nil)
	}
	return transfers, nil
}

// Snapshot summarizes the governance state for the metrics collector.
func (e *Engine) Snapshot(ctx context.Context) (telemetry.GovernanceSnapshot, error) {
	proposals, err := e.store.ListProposals(ctx, 0, math.MaxUint64)
	if err != nil {
		return telemetry.GovernanceSnapshot{}, fmt.Errorf("list proposals: %w", err)
	}
	members, err := e.store.CouncilSize(ctx)
	if err != nil {
		return telemetry.GovernanceSnapshot{}, fmt.Errorf("council size: %w", err)
	}

	byStatus := make(map[domain.ProposalStatus]uint64, len(domain.AllStatuses))
	for _, status := range domain.AllStatuses {
		byStatus[status] = 0
	}
	for _, p := range proposals {
		byStatus[p.Status]++
	}
	return telemetry.GovernanceSnapshot{
		ProposalsByStatus: byStatus,
		CouncilMembers:    members,
		Settings:          e.Settings(),
	}, nil
}

// fail records err on the span and wraps it for the caller.
func (e *Engine) fail(span trace.Span, op string, err error, details map[string]any) error {
	derr := domain.NewError(op, err, details)
	span.RecordError(derr)
	span.SetStatus(codes.Error, derr.Error())
	return derr
}

// logAttrs returns the attributes shared by every proposal log line.
func logAttrs(span trace.Span, p *domain.Proposal, extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{
		slog.Uint64("proposal_id", uint64(p.ID)),
		slog.String("status", string(p.Status)),
	}
	if p.Kind != nil {
		attrs = append(attrs, slog.String("kind", p.Kind.Name()))
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
	}
	return append(attrs, extra...)
}
