package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/policy"
	"github.com/polisai/polis-dao/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProposalInput is what a caller submits to AddProposal.
type ProposalInput struct {
	Target      domain.Identity
	Description string
	Kind        domain.ProposalKind
}

// AddProposal opens a vote on input and returns the new proposal id. The
// caller becomes the proposer and the vote closes one vote period after
// call.Now.
func (e *Engine) AddProposal(ctx context.Context, call domain.Call, input ProposalInput) (domain.ProposalID, error) {
	const op = "engine.AddProposal"
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("dao.caller", string(call.Caller)),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(input.Description) >= domain.MaxDescriptionLength {
		return 0, e.fail(span, op, domain.ErrDescriptionTooLong, map[string]any{
			"length": len(input.Description),
			"limit":  domain.MaxDescriptionLength,
		})
	}
	if err := domain.ValidateKind(input.Kind); err != nil {
		return 0, e.fail(span, op, err, nil)
	}

	if e.admission != nil {
		decision, err := e.admit(ctx, call, input)
		if err != nil {
			return 0, e.fail(span, op, err, nil)
		}
		telemetry.RecordAdmissionDecision(span, decision.Allowed(), decision.Reason)
		if !decision.Allowed() {
			reason := decision.Reason
			if reason == "" {
				reason = "no reason given"
			}
			return 0, e.fail(span, op, fmt.Errorf("%w: %s", domain.ErrAdmissionDenied, reason), map[string]any{
				"reason": decision.Reason,
			})
		}
	}

	proposal := &domain.Proposal{
		Status:        domain.StatusVote,
		Proposer:      call.Caller,
		Target:        input.Target,
		Description:   input.Description,
		Kind:          input.Kind,
		VotePeriodEnd: call.Now.Add(e.VotePeriod()),
		Votes:         map[domain.Identity]domain.Vote{},
	}
	id, err := e.store.AppendProposal(ctx, proposal)
	if err != nil {
		return 0, e.fail(span, op, fmt.Errorf("append proposal: %w", err), nil)
	}
	proposal.ID = id

	telemetry.RecordProposal(span, proposal)
	telemetry.RecordProposalCreated(ctx, input.Kind.Name())
	e.logger.LogAttrs(ctx, slog.LevelInfo, "proposal added",
		logAttrs(span, proposal,
			slog.String("caller", string(call.Caller)),
			slog.Time("vote_period_end", proposal.VotePeriodEnd),
		)...,
	)
	return id, nil
}

func (e *Engine) admit(ctx context.Context, call domain.Call, input ProposalInput) (policy.Decision, error) {
	isMember, err := e.store.IsMember(ctx, call.Caller)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("check membership: %w", err)
	}
	size, err := e.store.CouncilSize(ctx)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("council size: %w", err)
	}

	in := policy.Input{
		Proposer:    string(call.Caller),
		Target:      string(input.Target),
		Description: input.Description,
		Kind:        input.Kind.Name(),
		CouncilSize: size,
		IsMember:    isMember,
		Now:         call.Now,
	}
	if amount := domain.AmountOf(input.Kind); amount != nil {
		v := uint64(*amount)
		in.Amount = &v
	}

	decision, err := e.admission.Evaluate(ctx, in)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("admission policy: %w", err)
	}
	return decision, nil
}

// JoinCouncil seats the caller under name. The ticket is accepted as is;
// joining again only updates the name.
func (e *Engine) JoinCouncil(ctx context.Context, call domain.Call, ticket, name string) error {
	const op = "engine.JoinCouncil"
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("dao.caller", string(call.Caller)),
	))
	defer span.End()

	if strings.TrimSpace(string(call.Caller)) == "" {
		return e.fail(span, op, fmt.Errorf("%w: caller is required", domain.ErrInvalidInput), nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.UpsertMember(ctx, domain.Member{ID: call.Caller, Name: name}); err != nil {
		return e.fail(span, op, fmt.Errorf("upsert member: %w", err), nil)
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "council member joined",
		slog.String("caller", string(call.Caller)),
		slog.String("name", name),
		slog.Bool("ticket_present", ticket != ""),
	)
	return nil
}
