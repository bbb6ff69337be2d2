package domain

import (
	"fmt"
	"time"
)

// Settings are the engine-wide values that successful proposals may change.
type Settings struct {
	VotePeriod  time.Duration `json:"vote_period"`
	GracePeriod time.Duration `json:"grace_period"`
	Policy      PolicyTable   `json:"policy"`
}

// Validate checks that the settings can drive an engine.
func (s Settings) Validate() error {
	if s.VotePeriod <= 0 {
		return fmt.Errorf("%w: vote period must be positive, got %s", ErrInvalidInput, s.VotePeriod)
	}
	if s.GracePeriod < 0 {
		return fmt.Errorf("%w: grace period must not be negative, got %s", ErrInvalidInput, s.GracePeriod)
	}
	return s.Policy.Validate()
}

// Clone returns a copy with its own policy table.
func (s Settings) Clone() Settings {
	s.Policy = s.Policy.Clone()
	return s
}

// Call carries the per-call identity and clock supplied by the host.
type Call struct {
	Caller Identity
	Now    time.Time
}

// Member is a council seat.
type Member struct {
	ID   Identity `json:"id"`
	Name string   `json:"name"`
}

// Transfer is an initiated payout recorded by a TransferSink.
type Transfer struct {
	ID         string     `json:"id"`
	ProposalID ProposalID `json:"proposal_id"`
	Target     Identity   `json:"target"`
	Amount     Amount     `json:"amount"`
	CreatedAt  time.Time  `json:"created_at"`
}
