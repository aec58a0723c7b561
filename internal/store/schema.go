package store

import (
	"encoding/json"
	"time"
)

// Approval statuses. An approval is terminal once it leaves "pending".
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// Approval represents one gated tool execution awaiting a human decision.
// Args holds the argument bundle as a JSON object string; the custom JSON
// methods below re-encode it as a structured "args" field on the wire.
type Approval struct {
	ID          int64
	ApprovalID  string
	Tool        string
	Args        string // JSON object
	Description string
	Status      string
	Result      string
	ResolvedBy  string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// approvalWire is the transport form of an Approval: args travel as a
// decoded JSON object, not a doubly-encoded string.
type approvalWire struct {
	ApprovalID  string          `json:"id"`
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status"`
	Result      string          `json:"result,omitempty"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

func (a *Approval) MarshalJSON() ([]byte, error) {
	args := json.RawMessage(a.Args)
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}
	return json.Marshal(approvalWire{
		ApprovalID:  a.ApprovalID,
		Tool:        a.Tool,
		Args:        args,
		Description: a.Description,
		Status:      a.Status,
		Result:      a.Result,
		ResolvedBy:  a.ResolvedBy,
		CreatedAt:   a.CreatedAt,
		ResolvedAt:  a.ResolvedAt,
	})
}

func (a *Approval) UnmarshalJSON(data []byte) error {
	var w approvalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	args := string(w.Args)
	if args == "" || args == "null" {
		args = "{}"
	}
	*a = Approval{
		ApprovalID:  w.ApprovalID,
		Tool:        w.Tool,
		Args:        args,
		Description: w.Description,
		Status:      w.Status,
		Result:      w.Result,
		ResolvedBy:  w.ResolvedBy,
		CreatedAt:   w.CreatedAt,
		ResolvedAt:  w.ResolvedAt,
	}
	return nil
}

// RememberedCommand is a shell command prefix a human approved permanently.
type RememberedCommand struct {
	ID         int64     `json:"-"`
	Pattern    string    `json:"pattern"`
	ApprovedBy string    `json:"approved_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScheduledJob is persisted scheduler state. Schedule holds either a cron
// expression, an RFC3339 timestamp (one-shot), or "every N <unit>".
type ScheduledJob struct {
	ID        int64     `json:"-"`
	JobID     string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Prompt    string    `json:"prompt"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	RunCount  int       `json:"run_count"`
	CreatedAt time.Time `json:"created_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT UNIQUE NOT NULL,
	tool TEXT NOT NULL,
	args TEXT NOT NULL DEFAULT '{}',
	description TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	result TEXT DEFAULT '',
	resolved_by TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
CREATE INDEX IF NOT EXISTS idx_approvals_id ON approvals(approval_id);

CREATE TABLE IF NOT EXISTS remembered_commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern TEXT UNIQUE NOT NULL,
	approved_by TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	schedule TEXT NOT NULL,
	prompt TEXT NOT NULL,
	last_run_at DATETIME,
	run_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_name ON scheduled_jobs(name);
`
