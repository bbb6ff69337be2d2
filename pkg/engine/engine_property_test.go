package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/engine"
	"github.com/polisai/polis-dao/pkg/logging"
	"github.com/polisai/polis-dao/pkg/storage"
	"pgregory.net/rapid"
)

var propertyPolicies = []domain.PolicyTable{
	domain.DefaultPolicy(),
	{
		{MaxAmount: 100, Votes: domain.Number{N: 2}},
		{MaxAmount: 1_000_000, Votes: domain.Ratio{Num: 1, Den: 1}},
	},
	{
		{MaxAmount: 10, Votes: domain.Number{N: 1}},
		{MaxAmount: 1_000, Votes: domain.Ratio{Num: 2, Den: 3}},
	},
	{
		{MaxAmount: 0, Votes: domain.Number{N: 9}},
		{MaxAmount: 1, Votes: domain.Ratio{Num: 1, Den: 2}},
	},
}

// TestVotingInvariants drives a single payout proposal with a random script of
// votes and finalize calls and checks the lifecycle invariants after each step.
func TestVotingInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		councilSize := rapid.IntRange(1, 6).Draw(rt, "council")
		settings := domain.Settings{
			VotePeriod:  time.Duration(rapid.IntRange(1, 100).Draw(rt, "votePeriod")) * time.Second,
			GracePeriod: time.Duration(rapid.IntRange(0, 100).Draw(rt, "gracePeriod")) * time.Second,
			Policy:      rapid.SampledFrom(propertyPolicies).Draw(rt, "policy"),
		}

		store := storage.NewMemoryStore()
		e, err := engine.New(ctx, store, settings, engine.WithLogger(logging.Discard()))
		if err != nil {
			rt.Fatalf("new engine: %v", err)
		}
		for i := 0; i < councilSize; i++ {
			if err := e.JoinCouncil(ctx, domain.Call{Caller: member(i), Now: genesis}, "", "m"); err != nil {
				rt.Fatalf("join: %v", err)
			}
		}

		amount := domain.Amount(rapid.Uint64Range(0, 2_000_000).Draw(rt, "amount"))
		id, err := e.AddProposal(ctx, domain.Call{Caller: "proposer.near", Now: genesis}, engine.ProposalInput{
			Target: "payee.near",
			Kind:   domain.Payout{Amount: amount},
		})
		if err != nil {
			rt.Fatalf("add proposal: %v", err)
		}

		now := genesis
		deadlineChanges := 0
		prev, _ := e.GetProposal(ctx, id)

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for step := 0; step < steps; step++ {
			now = now.Add(time.Duration(rapid.IntRange(0, 40).Draw(rt, "advance")) * time.Second)
			call := domain.Call{Caller: member(rapid.IntRange(0, councilSize).Draw(rt, "caller")), Now: now}

			if rapid.Bool().Draw(rt, "finalize") {
				_, err = e.Finalize(ctx, call, id)
			} else {
				choice := rapid.SampledFrom([]domain.Vote{domain.VoteYes, domain.VoteNo}).Draw(rt, "choice")
				_, err = e.Vote(ctx, call, id, choice)
			}

			p, getErr := e.GetProposal(ctx, id)
			if getErr != nil {
				rt.Fatalf("get proposal: %v", getErr)
			}

			if p.VoteYes+p.VoteNo > uint64(councilSize) {
				rt.Fatalf("tally %d+%d exceeds council of %d", p.VoteYes, p.VoteNo, councilSize)
			}
			if uint64(len(p.Votes)) != p.VoteYes+p.VoteNo {
				rt.Fatalf("%d recorded voters for %d votes", len(p.Votes), p.VoteYes+p.VoteNo)
			}

			if prev.Status.IsTerminal() {
				if !errors.Is(err, domain.ErrAlreadyFinalized) {
					rt.Fatalf("call on terminal proposal returned %v", err)
				}
				if p.Status != prev.Status || p.VoteYes != prev.VoteYes || p.VoteNo != prev.VoteNo {
					rt.Fatalf("terminal proposal changed from %+v to %+v", prev, p)
				}
			}
			if err != nil && domain.KindOf(err) == domain.KindInternal {
				rt.Fatalf("unexpected internal error: %v", err)
			}

			if !p.VotePeriodEnd.Equal(prev.VotePeriodEnd) {
				deadlineChanges++
				if prev.Status != domain.StatusVote || p.Status != domain.StatusDelay {
					rt.Fatalf("deadline moved on %s -> %s", prev.Status, p.Status)
				}
				if !p.VotePeriodEnd.Equal(now.Add(settings.GracePeriod)) {
					rt.Fatalf("delay deadline %s, want %s", p.VotePeriodEnd, now.Add(settings.GracePeriod))
				}
			}
			if deadlineChanges > 1 {
				rt.Fatalf("deadline changed %d times", deadlineChanges)
			}

			transfers, _ := e.Transfers(ctx)
			wantTransfers := 0
			if p.Status == domain.StatusSuccess {
				wantTransfers = 1
			}
			if len(transfers) != wantTransfers {
				rt.Fatalf("status %s with %d transfers", p.Status, len(transfers))
			}

			prev = p
		}
	})
}
