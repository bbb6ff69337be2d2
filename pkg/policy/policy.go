package policy

import (
	"context"
	"errors"
	"time"
)

// Action defines the outcome of an admission evaluation.
type Action string

const (
	// ActionAllow admits the proposal.
	ActionAllow Action = "allow"
	// ActionDeny refuses the proposal.
	ActionDeny Action = "deny"
)

// Decision captures the result from a filter evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
}

// Allowed reports whether the proposal may be admitted.
func (d Decision) Allowed() bool {
	return d.Action != ActionDeny
}

// Input is the proposal as seen by admission rules. Amount is set for payouts only.
type Input struct {
	Proposer    string
	Target      string
	Description string
	Kind        string
	Amount      *uint64
	CouncilSize uint64
	IsMember    bool
	Now         time.Time
}

func (in Input) document() map[string]any {
	doc := map[string]any{
		"proposer":     in.Proposer,
		"target":       in.Target,
		"description":  in.Description,
		"kind":         in.Kind,
		"council_size": in.CouncilSize,
		"is_member":    in.IsMember,
		"now":          in.Now.UTC().Format(time.RFC3339Nano),
	}
	if in.Amount != nil {
		doc["amount"] = *in.Amount
	}
	return doc
}

// Filter evaluates an admission decision for a given input.
type Filter interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// Chain composes multiple filters, short-circuiting on the first denial.
type Chain struct {
	filters []Filter
}

// NewChain constructs a filter chain.
func NewChain(filters ...Filter) Chain {
	return Chain{filters: append([]Filter(nil), filters...)}
}

// Evaluate executes the chain until a filter denies.
func (c Chain) Evaluate(ctx context.Context, input Input) (Decision, error) {
	for _, filter := range c.filters {
		decision, err := filter.Evaluate(ctx, input)
		if err != nil {
			return Decision{}, err
		}
		if decision.Metadata == nil {
			decision.Metadata = map[string]string{}
		}
		switch decision.Action {
		case ActionAllow:
		case ActionDeny:
			return decision, nil
		default:
			return Decision{}, errors.New("unknown admission action")
		}
	}
	return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
}
