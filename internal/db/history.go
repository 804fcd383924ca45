package db

import (
	"database/sql"
	"time"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

// DefaultHistoryLimit bounds ListHistory when no limit is given.
const DefaultHistoryLimit = 20

// HistoryEntry records one successful envelope write.
type HistoryEntry struct {
	ID            int64   `json:"id"`
	Domain        string  `json:"domain"`
	SessionID     string  `json:"session_id"`
	Timestamp     int64   `json:"timestamp"`
	Checksum      string  `json:"checksum"`
	SchemaVersion string  `json:"schema_version"`
	OccupiedSlots int     `json:"occupied_slots"`
	ItemCount     int     `json:"item_count"`
	Reason        *string `json:"reason,omitempty"`
	CreatedAt     int64   `json:"created_at"`
}

// InsertHistory stores h and fills in its ID and CreatedAt.
func InsertHistory(db *sql.DB, h *HistoryEntry) error {
	if h.Domain == "" || h.SessionID == "" {
		return errors.NewInvalidRequest("history entry requires domain and session_id")
	}
	if h.CreatedAt == 0 {
		h.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO save_history (
			domain, session_id, timestamp, checksum, schema_version,
			occupied_slots, item_count, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.Exec(query,
		h.Domain, h.SessionID, h.Timestamp, h.Checksum, h.SchemaVersion,
		h.OccupiedSlots, h.ItemCount, toNullString(h.Reason), h.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.NewInternal(err)
	}
	h.ID = id
	return nil
}

// ListHistory returns the most recent entries, newest first. An empty
// domain lists every domain. limit <= 0 uses DefaultHistoryLimit.
func ListHistory(db *sql.DB, domain string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, domain, session_id, timestamp, checksum, schema_version,
			occupied_slots, item_count, reason, created_at
		FROM save_history
	`
	args := []any{}
	if domain != "" {
		query += " WHERE domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			h      HistoryEntry
			reason sql.NullString
		)
		if err := rows.Scan(
			&h.ID, &h.Domain, &h.SessionID, &h.Timestamp, &h.Checksum, &h.SchemaVersion,
			&h.OccupiedSlots, &h.ItemCount, &reason, &h.CreatedAt,
		); err != nil {
			return nil, errors.NewInternal(err)
		}
		h.Reason = fromNullString(reason)
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return entries, nil
}

// CountHistory returns the number of history rows for domain ("" for all).
func CountHistory(db *sql.DB, domain string) (int, error) {
	query := `SELECT COUNT(*) FROM save_history`
	args := []any{}
	if domain != "" {
		query += " WHERE domain = ?"
		args = append(args, domain)
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// ClearHistory deletes every history row and returns how many were removed.
func ClearHistory(db *sql.DB) (int64, error) {
	result, err := db.Exec(`DELETE FROM save_history`)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
