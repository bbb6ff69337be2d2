package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/bits"
)

// Amount is a monetary quantity in the smallest unit of the treasury asset.
type Amount uint64

// VoteRequirement is either an absolute Number of votes or a Ratio of the council.
type VoteRequirement interface {
	// Votes resolves the requirement against the current council size.
	Votes(councilSize uint64) uint64
	String() string
	voteRequirement()
}

// Number requires exactly N yes votes. It is never clamped to the council
// size, so a tier asking for more votes than there are members cannot be met.
type Number struct {
	N uint64
}

// Ratio requires strictly more than Num/Den of the council, capped at the
// whole council.
type Ratio struct {
	Num uint64
	Den uint64
}

func (n Number) Votes(uint64) uint64 { return n.N }

func (n Number) String() string { return fmt.Sprintf("%d", n.N) }

func (Number) voteRequirement() {}

// Votes computes min(councilSize*Num/Den + 1, councilSize) without overflow.
func (r Ratio) Votes(councilSize uint64) uint64 {
	if r.Den == 0 {
		return councilSize
	}
	hi, lo := bits.Mul64(councilSize, r.Num)
	if hi >= r.Den {
		// quotient does not fit in 64 bits, so it is above councilSize
		return councilSize
	}
	q, _ := bits.Div64(hi, lo, r.Den)
	if q >= councilSize {
		return councilSize
	}
	return q + 1
}

func (r Ratio) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

func (Ratio) voteRequirement() {}

// atLeastHalf reports 2*Num >= Den.
func (r Ratio) atLeastHalf() bool {
	sum, carry := bits.Add64(r.Num, r.Num, 0)
	return carry == 1 || sum >= r.Den
}

// PolicyItem is one tier of a PolicyTable.
type PolicyItem struct {
	MaxAmount Amount
	Votes     VoteRequirement
}

// PolicyTable maps amount thresholds to vote requirements. Tiers are sorted by
// strictly increasing MaxAmount and the last tier is the ceiling rule.
type PolicyTable []PolicyItem

// DefaultPolicy is a single tier requiring a strict majority for everything.
func DefaultPolicy() PolicyTable {
	return PolicyTable{{MaxAmount: 0, Votes: Ratio{Num: 1, Den: 2}}}
}

// RequiredVotes returns the yes votes needed to approve a proposal moving
// amount. A nil amount selects the last tier.
func (t PolicyTable) RequiredVotes(amount *Amount, councilSize uint64) uint64 {
	if len(t) == 0 {
		return councilSize
	}
	if amount != nil {
		for _, item := range t {
			if item.MaxAmount > *amount {
				return item.Votes.Votes(councilSize)
			}
		}
	}
	return t[len(t)-1].Votes.Votes(councilSize)
}

// Validate checks the table shape. Any violation rejects the whole table.
func (t PolicyTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: policy shouldn't be empty", ErrInvalidPolicy)
	}
	for i, item := range t {
		switch v := item.Votes.(type) {
		case Number:
		case Ratio:
			if v.Den == 0 {
				return fmt.Errorf("%w: tier %d has a zero denominator", ErrInvalidPolicy, i)
			}
		case nil:
			return fmt.Errorf("%w: tier %d has no vote requirement", ErrInvalidPolicy, i)
		default:
			return fmt.Errorf("%w: tier %d has unsupported requirement %T", ErrInvalidPolicy, i, v)
		}
		if i > 0 && item.MaxAmount <= t[i-1].MaxAmount {
			return fmt.Errorf("%w: policy must be sorted, item %d is out of order", ErrInvalidPolicy, i)
		}
	}
	last, ok := t[len(t)-1].Votes.(Ratio)
	if !ok {
		return fmt.Errorf("%w: last element must be a ratio", ErrInvalidPolicy)
	}
	if !last.atLeastHalf() {
		return fmt.Errorf("%w: last element must be at least half (got %s)", ErrInvalidPolicy, last)
	}
	return nil
}

// Clone returns a copy that shares no backing array with t.
func (t PolicyTable) Clone() PolicyTable {
	if t == nil {
		return nil
	}
	out := make(PolicyTable, len(t))
	copy(out, t)
	return out
}

type policyItemJSON struct {
	MaxAmount Amount          `json:"max_amount"`
	Votes     json.RawMessage `json:"votes"`
}

// MarshalJSON encodes Number as a bare integer and Ratio as a two-element array.
func (p PolicyItem) MarshalJSON() ([]byte, error) {
	raw, err := MarshalVoteRequirement(p.Votes)
	if err != nil {
		return nil, err
	}
	return json.Marshal(policyItemJSON{MaxAmount: p.MaxAmount, Votes: raw})
}

func (p *PolicyItem) UnmarshalJSON(data []byte) error {
	var wire policyItemJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	votes, err := UnmarshalVoteRequirement(wire.Votes)
	if err != nil {
		return err
	}
	p.MaxAmount = wire.MaxAmount
	p.Votes = votes
	return nil
}

// MarshalVoteRequirement encodes v as an integer or an [a, b] pair.
func MarshalVoteRequirement(v VoteRequirement) ([]byte, error) {
	switch req := v.(type) {
	case Number:
		return json.Marshal(req.N)
	case Ratio:
		return json.Marshal([2]uint64{req.Num, req.Den})
	default:
		return nil, fmt.Errorf("%w: unsupported vote requirement %T", ErrInvalidPolicy, v)
	}
}

// UnmarshalVoteRequirement decodes an integer or an [a, b] pair.
func UnmarshalVoteRequirement(data []byte) (VoteRequirement, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []uint64
		if err := json.Unmarshal(data, &pair); err != nil {
			return nil, fmt.Errorf("%w: ratio: %v", ErrInvalidPolicy, err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: ratio needs exactly two numbers, got %d", ErrInvalidPolicy, len(pair))
		}
		return Ratio{Num: pair[0], Den: pair[1]}, nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: votes must be a number or [num, den]: %v", ErrInvalidPolicy, err)
	}
	return Number{N: n}, nil
}
