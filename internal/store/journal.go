package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/workflow"
)

// JournalEntry is one recorded state transition.
type JournalEntry struct {
	ID         int64     `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Subject    string    `json:"subject"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordTransition appends one transition to the journal.
func (s *Store) RecordTransition(ctx context.Context, e workflow.Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_events (workflow_id, task_id, subject, from_status, to_status, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.WorkflowID, e.TaskID, e.Subject, e.From, e.To, e.Detail, e.At)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// WorkflowHistory returns a workflow's transitions oldest first.
func (s *Store) WorkflowHistory(ctx context.Context, workflowID string) ([]JournalEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, task_id, subject, from_status, to_status, detail, occurred_at
		FROM workflow_events
		WHERE workflow_id = $1
		ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query workflow history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// RecentEvents returns the newest transitions across all workflows.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, task_id, subject, from_status, to_status, detail, occurred_at
		FROM workflow_events
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]JournalEntry, error) {
	var entries []JournalEntry
	for rows.Next() {
		var entry JournalEntry
		if err := rows.Scan(&entry.ID, &entry.WorkflowID, &entry.TaskID, &entry.Subject,
			&entry.FromStatus, &entry.ToStatus, &entry.Detail, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Notify records the event asynchronously so the journal can sit
// behind the monitoring hub. Write failures are logged, not surfaced.
func (s *Store) Notify(e workflow.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.RecordTransition(ctx, e); err != nil {
		s.logger.Warn("journal write failed",
			zap.String("workflow_id", e.WorkflowID), zap.Error(err))
	}
}
