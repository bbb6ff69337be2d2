package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/polisai/polis-dao/pkg/domain"
)

// MemoryStore is an in-memory implementation of domain.Store.
type MemoryStore struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	proposals []*domain.Proposal
	council   map[domain.Identity]string
	settings  *domain.Settings
	transfers []domain.Transfer
}

var _ domain.Store = (*MemoryStore)(nil)

type memoryTxKey struct{}

type memorySnapshot struct {
	proposals []*domain.Proposal
	council   map[domain.Identity]string
	settings  *domain.Settings
	transfers []domain.Transfer
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		council: make(map[domain.Identity]string),
	}
}

// Atomically runs fn and restores the previous state if it fails. Nested
// calls join the outer unit.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		proposals: make([]*domain.Proposal, len(s.proposals)),
		council:   make(map[domain.Identity]string, len(s.council)),
		transfers: append([]domain.Transfer(nil), s.transfers...),
	}
	for i, p := range s.proposals {
		snap.proposals[i] = p.Clone()
	}
	for id, name := range s.council {
		snap.council[id] = name
	}
	if s.settings != nil {
		settings := s.settings.Clone()
		snap.settings = &settings
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proposals = snap.proposals
	s.council = snap.council
	s.settings = snap.settings
	s.transfers = snap.transfers
}

// AppendProposal stores a copy of p under the next id.
func (s *MemoryStore) AppendProposal(ctx context.Context, p *domain.Proposal) (domain.ProposalID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := p.Clone()
	stored.ID = domain.ProposalID(len(s.proposals))
	s.proposals = append(s.proposals, stored)
	return stored.ID, nil
}

// GetProposal retrieves a proposal from memory.
func (s *MemoryStore) GetProposal(ctx context.Context, id domain.ProposalID) (*domain.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uint64(id) >= uint64(len(s.proposals)) {
		return nil, fmt.Errorf("%w: %d", domain.ErrProposalNotFound, id)
	}
	return s.proposals[id].Clone(), nil
}

// ReplaceProposal overwrites an existing proposal.
func (s *MemoryStore) ReplaceProposal(ctx context.Context, p *domain.Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(p.ID) >= uint64(len(s.proposals)) {
		return fmt.Errorf("%w: %d", domain.ErrProposalNotFound, p.ID)
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) CountProposals(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.proposals)), nil
}

func (s *MemoryStore) ListProposals(ctx context.Context, from, limit uint64) ([]*domain.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePage(s.proposals, from, limit), nil
}

func (s *MemoryStore) ListProposalsByStatus(ctx context.Context, statuses []domain.ProposalStatus, from, limit uint64) ([]*domain.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[domain.ProposalStatus]struct{}, len(statuses))
	for _, status := range statuses {
		want[status] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]*domain.Proposal, 0)
	for _, p := range s.proposals {
		if _, ok := want[p.Status]; ok {
			filtered = append(filtered, p)
		}
	}
	return clonePage(filtered, from, limit), nil
}

// clonePage copies items[from:min(from+limit, len)] without overflowing.
func clonePage(items []*domain.Proposal, from, limit uint64) []*domain.Proposal {
	n := uint64(len(items))
	if from >= n || limit == 0 {
		return []*domain.Proposal{}
	}
	end := n
	if limit < n-from {
		end = from + limit
	}
	out := make([]*domain.Proposal, 0, end-from)
	for _, p := range items[from:end] {
		out = append(out, p.Clone())
	}
	return out
}

func (s *MemoryStore) UpsertMember(ctx context.Context, m domain.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.council[m.ID] = m.Name
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, id domain.Identity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.council[id]
	delete(s.council, id)
	return ok, nil
}

func (s *MemoryStore) IsMember(ctx context.Context, id domain.Identity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.council[id]
	return ok, nil
}

func (s *MemoryStore) CouncilSize(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.council)), nil
}

func (s *MemoryStore) CouncilMembers(ctx context.Context) ([]domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	members := make([]domain.Member, 0, len(s.council))
	for id, name := range s.council {
		members = append(members, domain.Member{ID: id, Name: name})
	}
	s.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, nil
}

func (s *MemoryStore) LoadSettings(ctx context.Context) (domain.Settings, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Settings{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return domain.Settings{}, false, nil
	}
	return s.settings.Clone(), true, nil
}

func (s *MemoryStore) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := settings.Clone()
	s.settings = &stored
	return nil
}

// InitiateTransfer records the transfer in the in-memory outbox.
func (s *MemoryStore) InitiateTransfer(ctx context.Context, t domain.Transfer) (domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transfer{}, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, t)
	return t, nil
}

func (s *MemoryStore) ListTransfers(ctx context.Context) ([]domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Transfer(nil), s.transfers...), nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}
