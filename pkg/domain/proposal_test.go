package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deadline = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestComputeStatus(t *testing.T) {
	tiered := PolicyTable{
		{MaxAmount: 100, Votes: Number{N: 2}},
		{MaxAmount: 1_000_000, Votes: Ratio{Num: 1, Den: 1}},
	}
	before := deadline.Add(-time.Minute)
	after := deadline.Add(time.Nanosecond)

	tests := []struct {
		name   string
		policy PolicyTable
		kind   ProposalKind
		size   uint64
		yes    uint64
		no     uint64
		now    time.Time
		want   ProposalStatus
	}{
		{name: "open", policy: DefaultPolicy(), kind: RemoveCouncil{}, size: 3, yes: 1, now: before, want: StatusVote},
		{name: "ceiling reached", policy: DefaultPolicy(), kind: Payout{Amount: 10}, size: 2, yes: 2, now: before, want: StatusSuccess},
		{name: "required but not ceiling delays", policy: tiered, kind: Payout{Amount: 10}, size: 3, yes: 2, now: before, want: StatusDelay},
		{name: "required after deadline succeeds", policy: tiered, kind: Payout{Amount: 10}, size: 3, yes: 2, now: after, want: StatusSuccess},
		{name: "deadline is inclusive", policy: tiered, kind: Payout{Amount: 10}, size: 3, yes: 2, now: deadline, want: StatusDelay},
		{name: "objection blocks delay", policy: tiered, kind: Payout{Amount: 10}, size: 4, yes: 2, no: 1, now: before, want: StatusVote},
		{name: "large payout needs everyone", policy: tiered, kind: Payout{Amount: 10_000}, size: 3, yes: 2, now: before, want: StatusVote},
		{name: "rejected", policy: DefaultPolicy(), kind: RemoveCouncil{}, size: 3, no: 2, now: before, want: StatusReject},
		{name: "split council fails", policy: DefaultPolicy(), kind: RemoveCouncil{}, size: 2, yes: 1, no: 1, now: before, want: StatusFail},
		{name: "expired without majority", policy: DefaultPolicy(), kind: RemoveCouncil{}, size: 3, yes: 1, now: after, want: StatusFail},
		{name: "single member", policy: DefaultPolicy(), kind: RemoveCouncil{}, size: 1, yes: 1, now: before, want: StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Proposal{Kind: tt.kind, VotePeriodEnd: deadline, VoteYes: tt.yes, VoteNo: tt.no}
			assert.Equal(t, tt.want, p.ComputeStatus(tt.policy, tt.size, tt.now))
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.False(t, StatusVote.IsTerminal())
	assert.False(t, StatusDelay.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusReject.IsTerminal())
	assert.True(t, StatusFail.IsTerminal())

	status, err := ParseStatus("delay")
	require.NoError(t, err)
	assert.Equal(t, StatusDelay, status)

	_, err = ParseStatus("pending")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseVote("maybe")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateKind(t *testing.T) {
	assert.NoError(t, ValidateKind(Payout{Amount: 0}))
	assert.NoError(t, ValidateKind(RemoveCouncil{}))
	assert.ErrorIs(t, ValidateKind(ChangeVotePeriod{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateKind(nil), ErrInvalidInput)
	assert.ErrorIs(t, ValidateKind(ChangePolicy{Policy: PolicyTable{
		{MaxAmount: 100, Votes: Number{N: 5}},
		{MaxAmount: 5, Votes: Number{N: 3}},
	}}), ErrInvalidPolicy)
}

func TestProposalJSON(t *testing.T) {
	p := Proposal{
		ID:            3,
		Status:        StatusDelay,
		Proposer:      "alice",
		Target:        "bob",
		Description:   "change the rules",
		Kind:          ChangePolicy{Policy: DefaultPolicy()},
		VotePeriodEnd: deadline,
		VoteYes:       1,
		Votes:         map[Identity]Vote{"alice": VoteYes},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"change_policy"`)

	var decoded Proposal
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, p.Kind, decoded.Kind)
	assert.Equal(t, p.Votes, decoded.Votes)
	assert.True(t, p.VotePeriodEnd.Equal(decoded.VotePeriodEnd))

	_, err = UnmarshalKind([]byte(`{"type":"mint"}`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	kind, err := UnmarshalKind([]byte(`{"type":"change_vote_period","period":"72h"}`))
	require.NoError(t, err)
	assert.Equal(t, ChangeVotePeriod{Period: 72 * time.Hour}, kind)
}

func TestProposalCloneIsDeep(t *testing.T) {
	p := &Proposal{Kind: Payout{Amount: 1}, Votes: map[Identity]Vote{"a": VoteYes}}
	clone := p.Clone()
	clone.Votes["b"] = VoteNo
	clone.VoteNo++

	assert.Len(t, p.Votes, 1)
	assert.Zero(t, p.VoteNo)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPrecondition, KindOf(NewError("vote", ErrAlreadyVoted, nil)))
	assert.Equal(t, KindFatal, KindOf(ErrNotReady))
	assert.Equal(t, KindValidation, KindOf(ErrDescriptionTooLong))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.EqualError(t, NewError("finalize", ErrNotReady, nil), "finalize: voting period has not expired and no majority vote yet")
}
