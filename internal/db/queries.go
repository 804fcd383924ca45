package db

import (
	"database/sql"
	"time"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

// Pref is one row of the legacy preference table.
type Pref struct {
	Key       string
	Value     string
	UpdatedAt int64
}

// SetPref inserts or replaces a preference value.
func SetPref(db *sql.DB, key, value string) error {
	if key == "" {
		return errors.NewInvalidRequest("pref key must not be empty")
	}
	query := `
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.Exec(query, key, value, time.Now().Unix()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetPref retrieves a preference by key.
func GetPref(db *sql.DB, key string) (*Pref, error) {
	row := db.QueryRow(`SELECT key, value, updated_at FROM prefs WHERE key = ?`, key)

	var p Pref
	err := row.Scan(&p.Key, &p.Value, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(key)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &p, nil
}

// DeletePref removes a preference. Returns NOT_FOUND if the key is absent.
func DeletePref(db *sql.DB, key string) error {
	result, err := db.Exec(`DELETE FROM prefs WHERE key = ?`, key)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(key)
	}
	return nil
}

// ListPrefKeys returns every preference key, sorted.
func ListPrefKeys(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT key FROM prefs ORDER BY key`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.NewInternal(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return keys, nil
}

// ClearPrefs removes every preference row and returns how many were removed.
func ClearPrefs(db *sql.DB) (int64, error) {
	result, err := db.Exec(`DELETE FROM prefs`)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}
