// Package storagetest holds the behaviour every domain.Store must share.
// It is intended for use in test code only.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store owned by the test.
type Factory func(t *testing.T) domain.Store

var deadline = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newProposal(status domain.ProposalStatus, kind domain.ProposalKind) *domain.Proposal {
	return &domain.Proposal{
		Status:        status,
		Proposer:      "alice",
		Target:        "bob",
		Description:   "pay bob",
		Kind:          kind,
		VotePeriodEnd: deadline,
		Votes:         map[domain.Identity]domain.Vote{},
	}
}

// Run exercises the full domain.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("proposals", func(t *testing.T) { testProposals(t, newStore(t)) })
	t.Run("filtered pagination", func(t *testing.T) { testFilteredPagination(t, newStore(t)) })
	t.Run("council", func(t *testing.T) { testCouncil(t, newStore(t)) })
	t.Run("settings", func(t *testing.T) { testSettings(t, newStore(t)) })
	t.Run("transfers", func(t *testing.T) { testTransfers(t, newStore(t)) })
	t.Run("atomic rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

func testProposals(t *testing.T, store domain.Store) {
	ctx := context.Background()

	_, err := store.GetProposal(ctx, 0)
	require.ErrorIs(t, err, domain.ErrProposalNotFound)

	first, err := store.AppendProposal(ctx, newProposal(domain.StatusVote, domain.Payout{Amount: 10}))
	require.NoError(t, err)
	second, err := store.AppendProposal(ctx, newProposal(domain.StatusVote, domain.ChangePolicy{Policy: domain.DefaultPolicy()}))
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalID(0), first)
	assert.Equal(t, domain.ProposalID(1), second)

	count, err := store.CountProposals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	p, err := store.GetProposal(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.Payout{Amount: 10}, p.Kind)
	assert.True(t, deadline.Equal(p.VotePeriodEnd))
	assert.Empty(t, p.Votes)

	p.VoteYes = 1
	p.Votes["carol"] = domain.VoteYes
	p.Status = domain.StatusDelay
	p.VotePeriodEnd = deadline.Add(time.Hour)
	require.NoError(t, store.ReplaceProposal(ctx, p))

	// mutating the returned copy must not leak into the store
	p.VoteNo = 42

	got, err := store.GetProposal(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelay, got.Status)
	assert.Equal(t, uint64(1), got.VoteYes)
	assert.Zero(t, got.VoteNo)
	assert.Equal(t, map[domain.Identity]domain.Vote{"carol": domain.VoteYes}, got.Votes)
	assert.True(t, deadline.Add(time.Hour).Equal(got.VotePeriodEnd))

	missing := newProposal(domain.StatusVote, domain.RemoveCouncil{})
	missing.ID = 7
	require.ErrorIs(t, store.ReplaceProposal(ctx, missing), domain.ErrProposalNotFound)

	page, err := store.ListProposals(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second, page[0].ID)

	page, err = store.ListProposals(ctx, 0, ^uint64(0))
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = store.ListProposals(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testFilteredPagination(t *testing.T, store domain.Store) {
	ctx := context.Background()
	statuses := []domain.ProposalStatus{
		domain.StatusVote, domain.StatusSuccess, domain.StatusVote,
		domain.StatusFail, domain.StatusVote, domain.StatusReject,
	}
	for _, status := range statuses {
		_, err := store.AppendProposal(ctx, newProposal(status, domain.RemoveCouncil{}))
		require.NoError(t, err)
	}

	open, err := store.ListProposalsByStatus(ctx, []domain.ProposalStatus{domain.StatusVote}, 1, 5)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, domain.ProposalID(2), open[0].ID)
	assert.Equal(t, domain.ProposalID(4), open[1].ID)

	closed, err := store.ListProposalsByStatus(ctx, []domain.ProposalStatus{domain.StatusFail, domain.StatusReject, domain.StatusSuccess}, 0, 2)
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, domain.ProposalID(1), closed[0].ID)
	assert.Equal(t, domain.ProposalID(3), closed[1].ID)

	none, err := store.ListProposalsByStatus(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCouncil(t *testing.T, store domain.Store) {
	ctx := context.Background()

	require.NoError(t, store.UpsertMember(ctx, domain.Member{ID: "carol", Name: "Carol"}))
	require.NoError(t, store.UpsertMember(ctx, domain.Member{ID: "alice", Name: "Alice"}))
	require.NoError(t, store.UpsertMember(ctx, domain.Member{ID: "alice", Name: "Alice L."}))

	size, err := store.CouncilSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), size)

	members, err := store.CouncilMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Member{{ID: "alice", Name: "Alice L."}, {ID: "carol", Name: "Carol"}}, members)

	ok, err := store.IsMember(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := store.RemoveMember(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RemoveMember(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err = store.IsMember(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSettings(t *testing.T, store domain.Store) {
	ctx := context.Background()

	_, found, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	settings := domain.Settings{
		VotePeriod:  72 * time.Hour,
		GracePeriod: time.Hour,
		Policy: domain.PolicyTable{
			{MaxAmount: 100, Votes: domain.Number{N: 2}},
			{MaxAmount: 1_000_000, Votes: domain.Ratio{Num: 1, Den: 1}},
		},
	}
	require.NoError(t, store.SaveSettings(ctx, settings))

	settings.VotePeriod = time.Minute
	require.NoError(t, store.SaveSettings(ctx, settings))

	loaded, found, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, settings, loaded)
}

func testTransfers(t *testing.T, store domain.Store) {
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	first, err := store.InitiateTransfer(ctx, domain.Transfer{ProposalID: 3, Target: "bob", Amount: ^domain.Amount(0), CreatedAt: created})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = store.InitiateTransfer(ctx, domain.Transfer{ProposalID: 4, Target: "dave", Amount: 5, CreatedAt: created})
	require.NoError(t, err)

	transfers, err := store.ListTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, first.ID, transfers[0].ID)
	assert.Equal(t, ^domain.Amount(0), transfers[0].Amount)
	assert.Equal(t, domain.Identity("dave"), transfers[1].Target)
	assert.True(t, created.Equal(transfers[1].CreatedAt))
}

func testRollback(t *testing.T, store domain.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := store.AppendProposal(ctx, newProposal(domain.StatusVote, domain.RemoveCouncil{}))
	require.NoError(t, err)

	err = store.Atomically(ctx, func(ctx context.Context) error {
		p, err := store.GetProposal(ctx, 0)
		if err != nil {
			return err
		}
		p.Status = domain.StatusSuccess
		if err := store.ReplaceProposal(ctx, p); err != nil {
			return err
		}
		if err := store.UpsertMember(ctx, domain.Member{ID: "mallory", Name: "Mallory"}); err != nil {
			return err
		}
		if _, err := store.InitiateTransfer(ctx, domain.Transfer{Target: "mallory", Amount: 1}); err != nil {
			return err
		}
		if err := store.SaveSettings(ctx, domain.Settings{VotePeriod: time.Hour, Policy: domain.DefaultPolicy()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.GetProposal(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVote, p.Status)

	size, err := store.CouncilSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	transfers, err := store.ListTransfers(ctx)
	require.NoError(t, err)
	assert.Empty(t, transfers)

	_, found, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}
