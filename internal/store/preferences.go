package store

import (
	"context"
	"database/sql"
)

// UserPrefs is a per-user view of the preferences table. It satisfies the
// options.PreferenceStore interface.
type UserPrefs struct {
	s        *Store
	username string
}

// PrefsFor returns the preference view for one user.
func (s *Store) PrefsFor(username string) *UserPrefs {
	return &UserPrefs{s: s, username: username}
}

// GetPreference returns the stored value for a setting name. The second
// return value is false when the user has no stored preference.
func (p *UserPrefs) GetPreference(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := p.s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE username = ? AND name = ?`,
		p.username, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetPreference upserts a setting for the user.
func (p *UserPrefs) SetPreference(ctx context.Context, name, value string) error {
	_, err := p.s.db.ExecContext(ctx,
		`INSERT INTO preferences (username, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(username, name) DO UPDATE SET value = ?`,
		p.username, name, value, value,
	)
	return err
}
