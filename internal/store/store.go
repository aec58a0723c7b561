package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound means no approval exists with the given id.
	ErrNotFound = errors.New("approval not found")
	// ErrAlreadyResolved means the approval already left the pending state.
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// Store persists approvals, remembered command patterns, and scheduler
// job state in a single sqlite database.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open approval db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func newApprovalID() string {
	return uuid.NewString()[:8]
}

// Submit records a new pending approval and returns it.
func (s *Store) Submit(tool, args, description string) (*Approval, error) {
	a := &Approval{
		ApprovalID:  newApprovalID(),
		Tool:        tool,
		Args:        args,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	res, err := s.db.Exec(
		`INSERT INTO approvals (approval_id, tool, args, description, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ApprovalID, a.Tool, a.Args, a.Description, a.Status, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert approval: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

// Get returns the approval with the given id, or ErrNotFound.
func (s *Store) Get(approvalID string) (*Approval, error) {
	row := s.db.QueryRow(
		`SELECT id, approval_id, tool, args, description, status, result, resolved_by, created_at, resolved_at
		 FROM approvals WHERE approval_id = ?`, approvalID)
	return scanApproval(row)
}

// ListPending returns all pending approvals, oldest first.
func (s *Store) ListPending() ([]*Approval, error) {
	rows, err := s.db.Query(
		`SELECT id, approval_id, tool, args, description, status, result, resolved_by, created_at, resolved_at
		 FROM approvals WHERE status = ? ORDER BY created_at ASC, id ASC`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Approve flips a pending approval to approved. Exactly one caller wins
// a concurrent race; the losers get ErrAlreadyResolved.
func (s *Store) Approve(approvalID, resolvedBy string) (*Approval, error) {
	return s.resolve(approvalID, StatusApproved, resolvedBy)
}

// Deny flips a pending approval to denied.
func (s *Store) Deny(approvalID, resolvedBy string) (*Approval, error) {
	return s.resolve(approvalID, StatusDenied, resolvedBy)
}

func (s *Store) resolve(approvalID, status, resolvedBy string) (*Approval, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE approvals SET status = ?, resolved_by = ?, resolved_at = ? WHERE approval_id = ? AND status = ?`,
		status, resolvedBy, now, approvalID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish missing from already-resolved.
		if _, err := s.Get(approvalID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyResolved
	}
	return s.Get(approvalID)
}

// SetResult stores the execution outcome. Valid in any state: results can
// arrive after approval, and error results are recorded for denied or
// interrupted approvals too.
func (s *Store) SetResult(approvalID, result string) error {
	res, err := s.db.Exec(`UPDATE approvals SET result = ? WHERE approval_id = ?`, result, approvalID)
	if err != nil {
		return fmt.Errorf("failed to set approval result: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup deletes approvals resolved longer ago than olderThan. Age is
// measured from resolution, not submission, so a long-pending request
// resolved yesterday is retained as recent history. Pending rows are
// never deleted regardless of age.
func (s *Store) Cleanup(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(
		`DELETE FROM approvals WHERE status != ? AND resolved_at IS NOT NULL AND resolved_at < ?`,
		StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up approvals: %w", err)
	}
	return res.RowsAffected()
}

// CountPending returns the number of pending approvals.
func (s *Store) CountPending() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM approvals WHERE status = ?`, StatusPending).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var a Approval
	var resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.ApprovalID, &a.Tool, &a.Args, &a.Description,
		&a.Status, &a.Result, &a.ResolvedBy, &a.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

// AddRememberedCommand stores a permanently approved command prefix.
// Duplicates are ignored.
func (s *Store) AddRememberedCommand(pattern, approvedBy string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return errors.New("empty command pattern")
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO remembered_commands (pattern, approved_by) VALUES (?, ?)`,
		pattern, approvedBy)
	if err != nil {
		return fmt.Errorf("failed to remember command: %w", err)
	}
	return nil
}

// ListRemembered returns all remembered command patterns, oldest first.
func (s *Store) ListRemembered() ([]*RememberedCommand, error) {
	rows, err := s.db.Query(
		`SELECT id, pattern, approved_by, created_at FROM remembered_commands ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list remembered commands: %w", err)
	}
	defer rows.Close()

	var out []*RememberedCommand
	for rows.Next() {
		var r RememberedCommand
		if err := rows.Scan(&r.ID, &r.Pattern, &r.ApprovedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
