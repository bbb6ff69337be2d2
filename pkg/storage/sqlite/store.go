// Package sqlite provides a durable domain.Store on top of modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed governance persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ domain.Store = (*Store)(nil)

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens a governance SQLite store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) q(ctx context.Context) (querier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, nil
	}
	return s.sqlDB, nil
}

// Atomically runs fn inside one transaction. Nested calls join the outer one.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const proposalColumns = `id, status, proposer, target, description, kind_json, vote_period_end, vote_yes, vote_no`

// AppendProposal inserts p at the next position.
func (s *Store) AppendProposal(ctx context.Context, p *domain.Proposal) (domain.ProposalID, error) {
	var id domain.ProposalID
	err := s.Atomically(ctx, func(ctx context.Context) error {
		q, err := s.q(ctx)
		if err != nil {
			return err
		}
		var count int64
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&count); err != nil {
			return fmt.Errorf("count proposals: %w", err)
		}
		stored := p.Clone()
		stored.ID = domain.ProposalID(count)

		kind, err := domain.MarshalKind(stored.Kind)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
INSERT INTO proposals (`+proposalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			int64(stored.ID),
			string(stored.Status),
			string(stored.Proposer),
			string(stored.Target),
			stored.Description,
			string(kind),
			stored.VotePeriodEnd.UTC().UnixNano(),
			int64(stored.VoteYes),
			int64(stored.VoteNo),
		); err != nil {
			return fmt.Errorf("insert proposal: %w", err)
		}
		if err := upsertVotes(ctx, q, stored); err != nil {
			return err
		}
		id = stored.ID
		return nil
	})
	return id, err
}

// GetProposal loads one proposal and its votes.
func (s *Store) GetProposal(ctx context.Context, id domain.ProposalID) (*domain.Proposal, error) {
	q, err := s.q(ctx)
	if err != nil {
		return nil, err
	}
	if uint64(id) > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d", domain.ErrProposalNotFound, id)
	}
	p, err := scanProposal(q.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrProposalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %d: %w", id, err)
	}
	if err := loadVotes(ctx, q, []*domain.Proposal{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// ReplaceProposal overwrites the stored row and records new votes.
func (s *Store) ReplaceProposal(ctx context.Context, p *domain.Proposal) error {
	return s.Atomically(ctx, func(ctx context.Context) error {
		q, err := s.q(ctx)
		if err != nil {
			return err
		}
		kind, err := domain.MarshalKind(p.Kind)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
UPDATE proposals SET
	status = ?,
	proposer = ?,
	target = ?,
	description = ?,
	kind_json = ?,
	vote_period_end = ?,
	vote_yes = ?,
	vote_no = ?
WHERE id = ?
`,
			string(p.Status),
			string(p.Proposer),
			string(p.Target),
			p.Description,
			string(kind),
			p.VotePeriodEnd.UTC().UnixNano(),
			int64(p.VoteYes),
			int64(p.VoteNo),
			int64(p.ID),
		)
		if err != nil {
			return fmt.Errorf("update proposal %d: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %d", domain.ErrProposalNotFound, p.ID)
		}
		return upsertVotes(ctx, q, p)
	})
}

func (s *Store) CountProposals(ctx context.Context) (uint64, error) {
	q, err := s.q(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return uint64(count), nil
}

func (s *Store) ListProposals(ctx context.Context, from, limit uint64) ([]*domain.Proposal, error) {
	return s.listProposals(ctx, "", nil, from, limit)
}

func (s *Store) ListProposalsByStatus(ctx context.Context, statuses []domain.ProposalStatus, from, limit uint64) ([]*domain.Proposal, error) {
	if len(statuses) == 0 {
		return []*domain.Proposal{}, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}
	return s.listProposals(ctx, "WHERE status IN ("+strings.Join(placeholders, ", ")+")", args, from, limit)
}

func (s *Store) listProposals(ctx context.Context, where string, args []any, from, limit uint64) ([]*domain.Proposal, error) {
	q, err := s.q(ctx)
	if err != nil {
		return nil, err
	}
	if from > math.MaxInt64 || limit == 0 {
		return []*domain.Proposal{}, nil
	}
	if limit > math.MaxInt64 {
		limit = math.MaxInt64
	}
	args = append(args, int64(limit), int64(from))

	rows, err := q.QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposals `+where+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	out := make([]*domain.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close proposal rows: %w", err)
	}
	if err := loadVotes(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*domain.Proposal, error) {
	var (
		id, deadline, yes, no                    int64
		status, proposer, target, desc, kindJSON string
	)
	if err := row.Scan(&id, &status, &proposer, &target, &desc, &kindJSON, &deadline, &yes, &no); err != nil {
		return nil, err
	}
	kind, err := domain.UnmarshalKind([]byte(kindJSON))
	if err != nil {
		return nil, fmt.Errorf("decode kind of proposal %d: %w", id, err)
	}
	return &domain.Proposal{
		ID:            domain.ProposalID(id),
		Status:        domain.ProposalStatus(status),
		Proposer:      domain.Identity(proposer),
		Target:        domain.Identity(target),
		Description:   desc,
		Kind:          kind,
		VotePeriodEnd: time.Unix(0, deadline).UTC(),
		VoteYes:       uint64(yes),
		VoteNo:        uint64(no),
		Votes:         make(map[domain.Identity]domain.Vote),
	}, nil
}

func loadVotes(ctx context.Context, q querier, proposals []*domain.Proposal) error {
	for _, p := range proposals {
		rows, err := q.QueryContext(ctx, `SELECT voter, vote FROM proposal_votes WHERE proposal_id = ?`, int64(p.ID))
		if err != nil {
			return fmt.Errorf("load votes of proposal %d: %w", p.ID, err)
		}
		for rows.Next() {
			var voter, vote string
			if err := rows.Scan(&voter, &vote); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan vote: %w", err)
			}
			p.Votes[domain.Identity(voter)] = domain.Vote(vote)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return fmt.Errorf("iterate votes: %w", err)
		}
	}
	return nil
}

func upsertVotes(ctx context.Context, q querier, p *domain.Proposal) error {
	for voter, vote := range p.Votes {
		if _, err := q.ExecContext(ctx, `
INSERT INTO proposal_votes (proposal_id, voter, vote) VALUES (?, ?, ?)
ON CONFLICT (proposal_id, voter) DO UPDATE SET vote = excluded.vote
`, int64(p.ID), string(voter), string(vote)); err != nil {
			return fmt.Errorf("record vote of %s on proposal %d: %w", voter, p.ID, err)
		}
	}
	return nil
}

func (s *Store) UpsertMember(ctx context.Context, m domain.Member) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
INSERT INTO council_members (id, name) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name
`, string(m.ID), m.Name); err != nil {
		return fmt.Errorf("upsert council member %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, id domain.Identity) (bool, error) {
	q, err := s.q(ctx)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `DELETE FROM council_members WHERE id = ?`, string(id))
	if err != nil {
		return false, fmt.Errorf("remove council member %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove council member %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) IsMember(ctx context.Context, id domain.Identity) (bool, error) {
	q, err := s.q(ctx)
	if err != nil {
		return false, err
	}
	var found int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM council_members WHERE id = ?`, string(id)).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup council member %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) CouncilSize(ctx context.Context) (uint64, error) {
	q, err := s.q(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM council_members`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count council: %w", err)
	}
	return uint64(count), nil
}

func (s *Store) CouncilMembers(ctx context.Context) ([]domain.Member, error) {
	q, err := s.q(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT id, name FROM council_members ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list council: %w", err)
	}
	defer rows.Close()

	members := make([]domain.Member, 0)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan council member: %w", err)
		}
		members = append(members, domain.Member{ID: domain.Identity(id), Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate council: %w", err)
	}
	return members, nil
}

func (s *Store) LoadSettings(ctx context.Context) (domain.Settings, bool, error) {
	q, err := s.q(ctx)
	if err != nil {
		return domain.Settings{}, false, err
	}
	var (
		votePeriod, gracePeriod int64
		policyJSON              string
	)
	err = q.QueryRowContext(ctx, `SELECT vote_period_ns, grace_period_ns, policy_json FROM settings WHERE id = 1`).
		Scan(&votePeriod, &gracePeriod, &policyJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settings{}, false, nil
	}
	if err != nil {
		return domain.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	var policy domain.PolicyTable
	if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
		return domain.Settings{}, false, fmt.Errorf("decode stored policy: %w", err)
	}
	return domain.Settings{
		VotePeriod:  time.Duration(votePeriod),
		GracePeriod: time.Duration(gracePeriod),
		Policy:      policy,
	}, true, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	policyJSON, err := json.Marshal(settings.Policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
INSERT INTO settings (id, vote_period_ns, grace_period_ns, policy_json) VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	vote_period_ns = excluded.vote_period_ns,
	grace_period_ns = excluded.grace_period_ns,
	policy_json = excluded.policy_json
`, int64(settings.VotePeriod), int64(settings.GracePeriod), string(policyJSON)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// InitiateTransfer appends the transfer to the outbox table.
func (s *Store) InitiateTransfer(ctx context.Context, t domain.Transfer) (domain.Transfer, error) {
	q, err := s.q(ctx)
	if err != nil {
		return domain.Transfer{}, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if _, err := q.ExecContext(ctx, `
INSERT INTO transfers (id, proposal_id, target, amount, created_at) VALUES (?, ?, ?, ?, ?)
`,
		t.ID,
		int64(t.ProposalID),
		string(t.Target),
		strconv.FormatUint(uint64(t.Amount), 10),
		t.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return domain.Transfer{}, fmt.Errorf("record transfer: %w", err)
	}
	return t, nil
}

func (s *Store) ListTransfers(ctx context.Context) ([]domain.Transfer, error) {
	q, err := s.q(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT id, proposal_id, target, amount, created_at FROM transfers ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0)
	for rows.Next() {
		var (
			id, target, amount  string
			proposalID, created int64
		)
		if err := rows.Scan(&id, &proposalID, &target, &amount, &created); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		value, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode transfer amount %q: %w", amount, err)
		}
		transfers = append(transfers, domain.Transfer{
			ID:         id,
			ProposalID: domain.ProposalID(proposalID),
			Target:     domain.Identity(target),
			Amount:     domain.Amount(value),
			CreatedAt:  time.UnixMilli(created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, nil
}
