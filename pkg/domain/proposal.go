package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxDescriptionLength bounds proposal descriptions, in bytes (exclusive).
const MaxDescriptionLength = 280

// Identity names a caller, council member or payout target.
type Identity string

// ProposalID is the 0-based position of a proposal in the store.
type ProposalID uint64

// Vote is a council member's choice.
type Vote string

const (
	VoteYes Vote = "yes"
	VoteNo  Vote = "no"
)

// ParseVote accepts "yes" or "no".
func ParseVote(s string) (Vote, error) {
	switch Vote(s) {
	case VoteYes, VoteNo:
		return Vote(s), nil
	default:
		return "", fmt.Errorf("%w: vote must be %q or %q, got %q", ErrInvalidInput, VoteYes, VoteNo, s)
	}
}

// ProposalStatus is the state of a proposal. Vote and Delay are open, the
// rest are terminal.
type ProposalStatus string

const (
	StatusVote    ProposalStatus = "vote"
	StatusDelay   ProposalStatus = "delay"
	StatusSuccess ProposalStatus = "success"
	StatusReject  ProposalStatus = "reject"
	StatusFail    ProposalStatus = "fail"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ProposalStatus{StatusVote, StatusDelay, StatusSuccess, StatusReject, StatusFail}

// IsTerminal reports whether the status can no longer change.
func (s ProposalStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusReject || s == StatusFail
}

// ParseStatus maps a status name to its value.
func ParseStatus(s string) (ProposalStatus, error) {
	for _, status := range AllStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown proposal status %q", ErrInvalidInput, s)
}

// Kind names used on the wire and in telemetry.
const (
	KindRemoveCouncil    = "remove_council"
	KindPayout           = "payout"
	KindChangeVotePeriod = "change_vote_period"
	KindChangePolicy     = "change_policy"
)

// ProposalKind is the action a proposal performs when it succeeds.
type ProposalKind interface {
	Name() string
	proposalKind()
}

// RemoveCouncil removes the proposal target from the council.
type RemoveCouncil struct{}

// Payout transfers Amount to the proposal target.
type Payout struct {
	Amount Amount
}

// ChangeVotePeriod replaces the vote period applied to new proposals.
type ChangeVotePeriod struct {
	Period time.Duration
}

// ChangePolicy replaces the policy table.
type ChangePolicy struct {
	Policy PolicyTable
}

func (RemoveCouncil) Name() string    { return KindRemoveCouncil }
func (Payout) Name() string           { return KindPayout }
func (ChangeVotePeriod) Name() string { return KindChangeVotePeriod }
func (ChangePolicy) Name() string     { return KindChangePolicy }

func (RemoveCouncil) proposalKind()    {}
func (Payout) proposalKind()           {}
func (ChangeVotePeriod) proposalKind() {}
func (ChangePolicy) proposalKind()     {}

// AmountOf returns the amount a kind moves, or nil when it moves none.
func AmountOf(kind ProposalKind) *Amount {
	if p, ok := kind.(Payout); ok {
		amount := p.Amount
		return &amount
	}
	return nil
}

// ValidateKind checks kind-specific input.
func ValidateKind(kind ProposalKind) error {
	switch k := kind.(type) {
	case RemoveCouncil, Payout:
		return nil
	case ChangeVotePeriod:
		if k.Period <= 0 {
			return fmt.Errorf("%w: vote period must be positive, got %s", ErrInvalidInput, k.Period)
		}
		return nil
	case ChangePolicy:
		return k.Policy.Validate()
	case nil:
		return fmt.Errorf("%w: proposal kind is required", ErrInvalidInput)
	default:
		return fmt.Errorf("%w: unsupported proposal kind %T", ErrInvalidInput, kind)
	}
}

// Proposal is a governance action under vote. Votes holds at most one entry
// per council member, so it grows with the council, not with proposal volume.
type Proposal struct {
	ID            ProposalID
	Status        ProposalStatus
	Proposer      Identity
	Target        Identity
	Description   string
	Kind          ProposalKind
	VotePeriodEnd time.Time
	VoteYes       uint64
	VoteNo        uint64
	Votes         map[Identity]Vote
}

// ComputeStatus derives the status from the tallies, the policy and the clock.
func (p *Proposal) ComputeStatus(policy PolicyTable, councilSize uint64, now time.Time) ProposalStatus {
	maxVotes := policy.RequiredVotes(nil, councilSize)
	required := policy.RequiredVotes(AmountOf(p.Kind), councilSize)
	expired := now.After(p.VotePeriodEnd)

	switch {
	case p.VoteYes >= maxVotes:
		return StatusSuccess
	case p.VoteYes >= required && p.VoteNo == 0:
		if expired {
			return StatusSuccess
		}
		return StatusDelay
	case p.VoteNo >= maxVotes:
		return StatusReject
	case expired || p.VoteYes+p.VoteNo == councilSize:
		return StatusFail
	default:
		return StatusVote
	}
}

// HasVoted reports whether id already cast a vote.
func (p *Proposal) HasVoted(id Identity) bool {
	_, ok := p.Votes[id]
	return ok
}

// Clone returns a deep copy of the proposal to avoid shared mutable state.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Votes = make(map[Identity]Vote, len(p.Votes))
	for k, v := range p.Votes {
		clone.Votes[k] = v
	}
	if cp, ok := p.Kind.(ChangePolicy); ok {
		clone.Kind = ChangePolicy{Policy: cp.Policy.Clone()}
	}
	return &clone
}

type kindJSON struct {
	Type   string          `json:"type"`
	Amount *Amount         `json:"amount,omitempty"`
	Period string          `json:"period,omitempty"`
	Policy json.RawMessage `json:"policy,omitempty"`
}

// MarshalKind encodes a kind as an object tagged by "type".
func MarshalKind(kind ProposalKind) ([]byte, error) {
	wire := kindJSON{}
	switch k := kind.(type) {
	case RemoveCouncil:
		wire.Type = KindRemoveCouncil
	case Payout:
		wire.Type = KindPayout
		wire.Amount = &k.Amount
	case ChangeVotePeriod:
		wire.Type = KindChangeVotePeriod
		wire.Period = k.Period.String()
	case ChangePolicy:
		raw, err := json.Marshal(k.Policy)
		if err != nil {
			return nil, err
		}
		wire.Type = KindChangePolicy
		wire.Policy = raw
	default:
		return nil, fmt.Errorf("%w: unsupported proposal kind %T", ErrInvalidInput, kind)
	}
	return json.Marshal(wire)
}

// UnmarshalKind decodes an object produced by MarshalKind.
func UnmarshalKind(data []byte) (ProposalKind, error) {
	var wire kindJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: proposal kind: %v", ErrInvalidInput, err)
	}
	switch wire.Type {
	case KindRemoveCouncil:
		return RemoveCouncil{}, nil
	case KindPayout:
		if wire.Amount == nil {
			return nil, fmt.Errorf("%w: payout requires an amount", ErrInvalidInput)
		}
		return Payout{Amount: *wire.Amount}, nil
	case KindChangeVotePeriod:
		period, err := time.ParseDuration(wire.Period)
		if err != nil {
			return nil, fmt.Errorf("%w: vote period: %v", ErrInvalidInput, err)
		}
		return ChangeVotePeriod{Period: period}, nil
	case KindChangePolicy:
		var policy PolicyTable
		if err := json.Unmarshal(wire.Policy, &policy); err != nil {
			return nil, err
		}
		return ChangePolicy{Policy: policy}, nil
	default:
		return nil, fmt.Errorf("%w: unknown proposal kind %q", ErrInvalidInput, wire.Type)
	}
}

type proposalJSON struct {
	ID            ProposalID        `json:"id"`
	Status        ProposalStatus    `json:"status"`
	Proposer      Identity          `json:"proposer"`
	Target        Identity          `json:"target"`
	Description   string            `json:"description"`
	Kind          json.RawMessage   `json:"kind"`
	VotePeriodEnd time.Time         `json:"vote_period_end"`
	VoteYes       uint64            `json:"vote_yes"`
	VoteNo        uint64            `json:"vote_no"`
	Votes         map[Identity]Vote `json:"votes"`
}

func (p Proposal) MarshalJSON() ([]byte, error) {
	kind, err := MarshalKind(p.Kind)
	if err != nil {
		return nil, err
	}
	votes := p.Votes
	if votes == nil {
		votes = map[Identity]Vote{}
	}
	return json.Marshal(proposalJSON{
		ID:            p.ID,
		Status:        p.Status,
		Proposer:      p.Proposer,
		Target:        p.Target,
		Description:   p.Description,
		Kind:          kind,
		VotePeriodEnd: p.VotePeriodEnd,
		VoteYes:       p.VoteYes,
		VoteNo:        p.VoteNo,
		Votes:         votes,
	})
}

func (p *Proposal) UnmarshalJSON(data []byte) error {
	var wire proposalJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	kind, err := UnmarshalKind(wire.Kind)
	if err != nil {
		return err
	}
	votes := wire.Votes
	if votes == nil {
		votes = map[Identity]Vote{}
	}
	*p = Proposal{
		ID:            wire.ID,
		Status:        wire.Status,
		Proposer:      wire.Proposer,
		Target:        wire.Target,
		Description:   wire.Description,
		Kind:          kind,
		VotePeriodEnd: wire.VotePeriodEnd,
		VoteYes:       wire.VoteYes,
		VoteNo:        wire.VoteNo,
		Votes:         votes,
	}
	return nil
}
