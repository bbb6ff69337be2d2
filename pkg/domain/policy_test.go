package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func amountPtr(a Amount) *Amount { return &a }

func TestRatioVotes(t *testing.T) {
	tests := []struct {
		name  string
		ratio Ratio
		size  uint64
		want  uint64
	}{
		{name: "half of two", ratio: Ratio{1, 2}, size: 2, want: 2},
		{name: "half of three", ratio: Ratio{1, 2}, size: 3, want: 2},
		{name: "half of one", ratio: Ratio{1, 2}, size: 1, want: 1},
		{name: "empty council", ratio: Ratio{1, 2}, size: 0, want: 0},
		{name: "unanimous is clamped", ratio: Ratio{1, 1}, size: 3, want: 3},
		{name: "third of hundred", ratio: Ratio{1, 3}, size: 100, want: 34},
		{name: "huge numerator and denominator", ratio: Ratio{math.MaxUint64, math.MaxUint64}, size: 10, want: 10},
		{name: "product overflows", ratio: Ratio{math.MaxUint64, 2}, size: math.MaxUint64, want: math.MaxUint64},
		{name: "zero denominator", ratio: Ratio{1, 0}, size: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ratio.Votes(tt.size))
		})
	}
}

func TestRequiredVotesTierSelection(t *testing.T) {
	policy := PolicyTable{
		{MaxAmount: 100, Votes: Number{N: 2}},
		{MaxAmount: 1_000_000, Votes: Ratio{Num: 1, Den: 1}},
	}

	assert.Equal(t, uint64(2), policy.RequiredVotes(amountPtr(50), 3))
	// MaxAmount is exclusive
	assert.Equal(t, uint64(3), policy.RequiredVotes(amountPtr(100), 3))
	assert.Equal(t, uint64(3), policy.RequiredVotes(amountPtr(10_000), 3))
	assert.Equal(t, uint64(3), policy.RequiredVotes(amountPtr(2_000_000), 3))
	assert.Equal(t, uint64(3), policy.RequiredVotes(nil, 3))
}

func TestRequiredVotesNumberIsNotClamped(t *testing.T) {
	policy := PolicyTable{
		{MaxAmount: 100, Votes: Number{N: 5}},
		{MaxAmount: 1000, Votes: Ratio{Num: 1, Den: 2}},
	}

	assert.Equal(t, uint64(5), policy.RequiredVotes(amountPtr(10), 2))
	assert.Equal(t, uint64(2), policy.RequiredVotes(nil, 2))
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()
	require.NoError(t, policy.Validate())
	assert.Equal(t, uint64(2), policy.RequiredVotes(nil, 2))
	assert.Equal(t, uint64(2), policy.RequiredVotes(amountPtr(1_000), 3))
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  PolicyTable
		wantErr bool
	}{
		{name: "empty", policy: PolicyTable{}, wantErr: true},
		{name: "nil", policy: nil, wantErr: true},
		{
			name: "descending amounts",
			policy: PolicyTable{
				{MaxAmount: 100, Votes: Number{N: 5}},
				{MaxAmount: 5, Votes: Number{N: 3}},
			},
			wantErr: true,
		},
		{
			name: "duplicate amounts",
			policy: PolicyTable{
				{MaxAmount: 100, Votes: Number{N: 1}},
				{MaxAmount: 100, Votes: Ratio{Num: 1, Den: 2}},
			},
			wantErr: true,
		},
		{name: "last is a number", policy: PolicyTable{{MaxAmount: 0, Votes: Number{N: 3}}}, wantErr: true},
		{name: "last below half", policy: PolicyTable{{MaxAmount: 0, Votes: Ratio{Num: 1, Den: 3}}}, wantErr: true},
		{name: "zero denominator", policy: PolicyTable{{MaxAmount: 0, Votes: Ratio{Num: 1, Den: 0}}}, wantErr: true},
		{name: "missing requirement", policy: PolicyTable{{MaxAmount: 0}}, wantErr: true},
		{name: "exactly half", policy: PolicyTable{{MaxAmount: 0, Votes: Ratio{Num: 1, Den: 2}}}},
		{name: "numerator doubling overflows", policy: PolicyTable{{MaxAmount: 0, Votes: Ratio{Num: math.MaxUint64, Den: math.MaxUint64}}}},
		{
			name: "tiered",
			policy: PolicyTable{
				{MaxAmount: 100, Votes: Number{N: 2}},
				{MaxAmount: 1_000_000, Votes: Ratio{Num: 1, Den: 1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPolicy))
				assert.Equal(t, KindValidation, KindOf(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPolicyJSON(t *testing.T) {
	raw := `[{"max_amount":100,"votes":5},{"max_amount":1000000,"votes":[1,1]}]`

	var policy PolicyTable
	require.NoError(t, json.Unmarshal([]byte(raw), &policy))
	require.Len(t, policy, 2)
	assert.Equal(t, Number{N: 5}, policy[0].Votes)
	assert.Equal(t, Ratio{Num: 1, Den: 1}, policy[1].Votes)

	out, err := json.Marshal(policy)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	err = json.Unmarshal([]byte(`[{"max_amount":1,"votes":[1,2,3]}]`), &policy)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestPolicyCloneIsIndependent(t *testing.T) {
	policy := DefaultPolicy()
	clone := policy.Clone()
	clone[0].MaxAmount = 42

	assert.Equal(t, Amount(0), policy[0].MaxAmount)
}

func validPolicyGen() *rapid.Generator[PolicyTable] {
	return rapid.Custom(func(t *rapid.T) PolicyTable {
		tiers := rapid.IntRange(0, 4).Draw(t, "tiers")
		policy := make(PolicyTable, 0, tiers+1)
		var maxAmount Amount
		for i := 0; i < tiers; i++ {
			maxAmount += Amount(rapid.Uint64Range(1, 1_000_000).Draw(t, "step"))
			var votes VoteRequirement
			if rapid.Bool().Draw(t, "number") {
				votes = Number{N: rapid.Uint64Range(0, 1_000).Draw(t, "n")}
			} else {
				votes = Ratio{Num: rapid.Uint64Range(0, 100).Draw(t, "num"), Den: rapid.Uint64Range(1, 100).Draw(t, "den")}
			}
			policy = append(policy, PolicyItem{MaxAmount: maxAmount, Votes: votes})
		}
		den := rapid.Uint64Range(1, math.MaxUint64).Draw(t, "last_den")
		num := rapid.Uint64Range(den/2+den%2, math.MaxUint64).Draw(t, "last_num")
		maxAmount += Amount(rapid.Uint64Range(1, 1_000_000).Draw(t, "last_step"))
		return append(policy, PolicyItem{MaxAmount: maxAmount, Votes: Ratio{Num: num, Den: den}})
	})
}

func TestRequiredVotesNeverExceedsCouncilProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := validPolicyGen().Draw(t, "policy")
		size := rapid.Uint64().Draw(t, "council_size")

		// Property 1: generated tables are valid
		if err := policy.Validate(); err != nil {
			t.Fatalf("generated policy rejected: %v", err)
		}

		// Property 2: the ceiling rule is always reachable
		if got := policy.RequiredVotes(nil, size); got > size {
			t.Fatalf("RequiredVotes(nil, %d) = %d", size, got)
		}

		// Property 3: any ratio tier is reachable too
		amount := Amount(rapid.Uint64().Draw(t, "amount"))
		if _, isRatio := tierFor(policy, amount).Votes.(Ratio); isRatio {
			if got := policy.RequiredVotes(&amount, size); got > size {
				t.Fatalf("RequiredVotes(%d, %d) = %d", amount, size, got)
			}
		}
	})
}

func tierFor(policy PolicyTable, amount Amount) PolicyItem {
	for _, item := range policy {
		if item.MaxAmount > amount {
			return item
		}
	}
	return policy[len(policy)-1]
}
