package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// HistoryEntry is the recorded outcome of one request
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Target     string    `json:"target"`
	Kind       string    `json:"kind"`
	CommandID  uint32    `json:"command_id"`
	Outcome    string    `json:"outcome"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
}

// HistoryQuery filters the command history
type HistoryQuery struct {
	Limit   int
	Since   *time.Time
	Target  string
	Outcome string
}

// HistoryStats counts outcomes in the command history
type HistoryStats struct {
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
}

// RecordCommand appends an entry to the command history and trims it to
// the configured size
func (s *SettingsStore) RecordCommand(entry HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return s.inTx(func(tx *sql.Tx) error {
		query := `
			INSERT INTO command_history (
				timestamp, request_id, target, kind, command_id, outcome, retry_count, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.Exec(query,
			entry.Timestamp, entry.RequestID, entry.Target, entry.Kind,
			entry.CommandID, entry.Outcome, entry.RetryCount, entry.Error,
		); err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
		return s.trimHistory(tx)
	})
}

func (s *SettingsStore) trimHistory(tx *sql.Tx) error {
	if s.maxHistory <= 0 {
		return nil
	}
	query := `
		DELETE FROM command_history
		WHERE id NOT IN (
			SELECT id FROM command_history
			ORDER BY id DESC
			LIMIT ?
		)
	`
	_, err := tx.Exec(query, s.maxHistory)
	return err
}

// GetCommandHistory returns history entries, newest first
func (s *SettingsStore) GetCommandHistory(query HistoryQuery) ([]HistoryEntry, error) {
	var args []interface{}
	var conditions []string

	sqlQuery := `
		SELECT id, timestamp, request_id, target, kind, command_id, outcome, retry_count, error
		FROM command_history
		WHERE 1=1
	`

	if query.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.Since)
	}
	if query.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, query.Target)
	}
	if query.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, query.Outcome)
	}
	if len(conditions) > 0 {
		sqlQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sqlQuery += " ORDER BY id DESC"
	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RequestID, &e.Target, &e.Kind,
			&e.CommandID, &e.Outcome, &e.RetryCount, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetRecentCommands returns the newest history entries
func (s *SettingsStore) GetRecentCommands(limit int) ([]HistoryEntry, error) {
	return s.GetCommandHistory(HistoryQuery{Limit: limit})
}

// GetHistoryStats counts history entries per outcome
func (s *SettingsStore) GetHistoryStats() (*HistoryStats, error) {
	rows, err := s.db.Query("SELECT outcome, COUNT(*) FROM command_history GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to query history stats: %w", err)
	}
	defer rows.Close()

	stats := &HistoryStats{Outcomes: make(map[string]int)}
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats.Outcomes[outcome] = count
		stats.Total += count
	}
	return stats, rows.Err()
}
