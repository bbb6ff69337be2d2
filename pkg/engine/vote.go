package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// finalization is what a committed finalize must publish after the store
// unit of work succeeds.
type finalization struct {
	status   domain.ProposalStatus
	effect   string
	settings *domain.Settings
	transfer *domain.Transfer
}

// Vote records the caller's choice on proposal id and returns the updated
// proposal.
//
// A vote that arrives after the voting period is not recorded. The proposal
// is finalized instead and returned in its terminal state.
func (e *Engine) Vote(ctx context.Context, call domain.Call, id domain.ProposalID, choice domain.Vote) (*domain.Proposal, error) {
	const op = "engine.Vote"
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("dao.caller", string(call.Caller)),
		attribute.Int64("dao.proposal.id", int64(id)),
		attribute.String("vote.choice", string(choice)),
	))
	defer span.End()

	details := map[string]any{"proposal_id": id, "caller": call.Caller}
	if _, err := domain.ParseVote(string(choice)); err != nil {
		return nil, e.fail(span, op, err, details)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		result  *domain.Proposal
		dropped bool
		outcome *finalization
	)
	err := e.store.Atomically(ctx, func(ctx context.Context) error {
		p, err := e.store.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusVote {
			return fmt.Errorf("%w: proposal %d is %s", domain.ErrAlreadyFinalized, id, p.Status)
		}

		if p.VotePeriodEnd.Before(call.Now) {
			e.logger.LogAttrs(ctx, slog.LevelInfo, "voting period expired, finalizing the proposal",
				logAttrs(span, p, slog.String("caller", string(call.Caller)))...,
			)
			dropped = true
			outcome, err = e.finalize(ctx, span, call, p)
			result = p
			return err
		}

		if p.HasVoted(call.Caller) {
			return fmt.Errorf("%w: %s on proposal %d", domain.ErrAlreadyVoted, call.Caller, id)
		}
		isMember, err := e.store.IsMember(ctx, call.Caller)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !isMember {
			return fmt.Errorf("%w: %s", domain.ErrNotCouncilMember, call.Caller)
		}
		size, err := e.store.CouncilSize(ctx)
		if err != nil {
			return fmt.Errorf("council size: %w", err)
		}

		switch choice {
		case domain.VoteYes:
			p.VoteYes++
		case domain.VoteNo:
			p.VoteNo++
		}
		p.Votes[call.Caller] = choice
		result = p

		status := p.ComputeStatus(e.Policy(), size, call.Now)
		if status.IsTerminal() {
			outcome, err = e.finalize(ctx, span, call, p)
			return err
		}
		if status != p.Status {
			p.Status = status
			p.VotePeriodEnd = call.Now.Add(e.GracePeriod())
			e.logger.LogAttrs(ctx, slog.LevelInfo, "proposal entered grace period",
				logAttrs(span, p, slog.Time("vote_period_end", p.VotePeriodEnd))...,
			)
		}
		if err := e.store.ReplaceProposal(ctx, p); err != nil {
			return fmt.Errorf("replace proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(span, op, err, details)
	}

	telemetry.RecordVote(ctx, choice, dropped)
	e.publish(ctx, span, result, outcome)
	telemetry.RecordProposal(span, result)
	if !dropped {
		e.logger.LogAttrs(ctx, slog.LevelDebug, "vote recorded",
			logAttrs(span, result,
				slog.String("caller", string(call.Caller)),
				slog.String("choice", string(choice)),
				slog.Uint64("vote_yes", result.VoteYes),
				slog.Uint64("vote_no", result.VoteNo),
			)...,
		)
	}
	return result, nil
}

// Finalize closes proposal id once its outcome is decided: a majority was
// reached, or the voting period (or grace period) has ended.
func (e *Engine) Finalize(ctx context.Context, call domain.Call, id domain.ProposalID) (*domain.Proposal, error) {
	const op = "engine.Finalize"
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("dao.caller", string(call.Caller)),
		attribute.Int64("dao.proposal.id", int64(id)),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		result  *domain.Proposal
		outcome *finalization
	)
	err := e.store.Atomically(ctx, func(ctx context.Context) error {
		p, err := e.store.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		outcome, err = e.finalize(ctx, span, call, p)
		result = p
		return err
	})
	if err != nil {
		return nil, e.fail(span, op, err, map[string]any{"proposal_id": id})
	}

	e.publish(ctx, span, result, outcome)
	telemetry.RecordProposal(span, result)
	return result, nil
}

// finalize moves p to its terminal status and applies the effect of a
// successful proposal. It must run inside a store unit of work; p is updated
// in place and persisted.
func (e *Engine) finalize(ctx context.Context, span trace.Span, call domain.Call, p *domain.Proposal) (*finalization, error) {
	if p.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: proposal %d is %s", domain.ErrAlreadyFinalized, p.ID, p.Status)
	}

	size, err := e.store.CouncilSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("council size: %w", err)
	}
	status := p.ComputeStatus(e.Policy(), size, call.Now)
	out := &finalization{status: status}

	switch status {
	case domain.StatusVote, domain.StatusDelay:
		return nil, fmt.Errorf("%w: proposal %d", domain.ErrNotReady, p.ID)
	case domain.StatusSuccess:
		if err := e.applyEffect(ctx, call, p, out); err != nil {
			return nil, err
		}
		e.logger.LogAttrs(ctx, slog.LevelInfo, "proposal succeeded", logAttrs(span, p, slog.String("effect", out.effect))...)
	case domain.StatusReject:
		e.logger.LogAttrs(ctx, slog.LevelInfo, "proposal rejected", logAttrs(span, p)...)
	case domain.StatusFail:
		e.logger.LogAttrs(ctx, slog.LevelInfo, "proposal vote failed", logAttrs(span, p)...)
	default:
		return nil, fmt.Errorf("unexpected proposal status %q", status)
	}

	p.Status = status
	if err := e.store.ReplaceProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("replace proposal: %w", err)
	}
	return out, nil
}

func (e *Engine) applyEffect(ctx context.Context, call domain.Call, p *domain.Proposal, out *finalization) error {
	switch kind := p.Kind.(type) {
	case domain.RemoveCouncil:
		removed, err := e.store.RemoveMember(ctx, p.Target)
		if err != nil {
			return fmt.Errorf("remove council member: %w", err)
		}
		out.effect = "council_member_removed"
		if !removed {
			out.effect = "council_member_absent"
		}
	case domain.Payout:
		transfer, err := e.store.InitiateTransfer(ctx, domain.Transfer{
			ProposalID: p.ID,
			Target:     p.Target,
			Amount:     kind.Amount,
			CreatedAt:  call.Now,
		})
		if err != nil {
			return fmt.Errorf("initiate transfer: %w", err)
		}
		out.effect = "transfer_initiated"
		out.transfer = &transfer
	case domain.ChangeVotePeriod:
		settings := e.Settings()
		settings.VotePeriod = kind.Period
		if err := e.store.SaveSettings(ctx, settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		out.effect = "vote_period_changed"
		out.settings = &settings
	case domain.ChangePolicy:
		settings := e.Settings()
		settings.Policy = kind.Policy.Clone()
		if err := e.store.SaveSettings(ctx, settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		out.effect = "policy_changed"
		out.settings = &settings
	default:
		return fmt.Errorf("%w: unsupported proposal kind %T", domain.ErrInvalidInput, p.Kind)
	}
	return nil
}

// publish applies a committed finalization to the engine and its telemetry.
func (e *Engine) publish(ctx context.Context, span trace.Span, p *domain.Proposal, out *finalization) {
	if out == nil {
		return
	}
	if out.settings != nil {
		e.swapSettings(*out.settings)
	}
	kind := ""
	if p.Kind != nil {
		kind = p.Kind.Name()
	}
	if out.transfer != nil {
		telemetry.RecordTransfer(ctx, out.transfer.Amount)
		e.logger.LogAttrs(ctx, slog.LevelInfo, "transfer initiated",
			logAttrs(span, p,
				slog.String("transfer_id", out.transfer.ID),
				slog.String("target", string(out.transfer.Target)),
				slog.Uint64("amount", uint64(out.transfer.Amount)),
			)...,
		)
	}
	telemetry.RecordFinalized(ctx, out.status, kind)
	telemetry.RecordFinalizeEvent(span, out.status, out.effect)
}
