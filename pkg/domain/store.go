package domain

import "context"

// ProposalStore is an append-only sequence of proposals addressed by position.
type ProposalStore interface {
	// AppendProposal assigns the next id to p, stores it and returns the id.
	AppendProposal(ctx context.Context, p *Proposal) (ProposalID, error)
	// GetProposal returns a copy of the proposal or ErrProposalNotFound.
	GetProposal(ctx context.Context, id ProposalID) (*Proposal, error)
	// ReplaceProposal overwrites the proposal with the same id.
	ReplaceProposal(ctx context.Context, p *Proposal) error
	CountProposals(ctx context.Context) (uint64, error)
	// ListProposals returns up to limit proposals starting at position from.
	ListProposals(ctx context.Context, from, limit uint64) ([]*Proposal, error)
	// ListProposalsByStatus pages over the proposals whose status is in statuses.
	ListProposalsByStatus(ctx context.Context, statuses []ProposalStatus, from, limit uint64) ([]*Proposal, error)
}

// CouncilRegistry maps council identities to display names.
type CouncilRegistry interface {
	UpsertMember(ctx context.Context, m Member) error
	// RemoveMember reports whether the identity was a member.
	RemoveMember(ctx context.Context, id Identity) (bool, error)
	IsMember(ctx context.Context, id Identity) (bool, error)
	CouncilSize(ctx context.Context) (uint64, error)
	// CouncilMembers returns members ordered by identity.
	CouncilMembers(ctx context.Context) ([]Member, error)
}

// SettingsStore persists engine settings.
type SettingsStore interface {
	// LoadSettings reports false when nothing was saved yet.
	LoadSettings(ctx context.Context) (Settings, bool, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// TransferSink initiates payouts. It does not check balances or wait for settlement.
type TransferSink interface {
	InitiateTransfer(ctx context.Context, t Transfer) (Transfer, error)
	ListTransfers(ctx context.Context) ([]Transfer, error)
}

// Store bundles the collaborators a governance engine needs.
type Store interface {
	ProposalStore
	CouncilRegistry
	SettingsStore
	TransferSink
	// Atomically runs fn so that all writes made through ctx commit together
	// or not at all.
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}
