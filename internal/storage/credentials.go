package storage

import (
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/chatsync/client/internal/errors"
)

// authTokenName is the credentials row holding the session token.
const authTokenName = "auth_token"

// Credential is the stored session token.
type Credential struct {
	Token     string
	Username  string
	UpdatedAt time.Time
}

// SaveToken stores the session token, replacing any previous one.
func (s *SQLiteStore) SaveToken(token, username string) error {
	if token == "" {
		return apperrors.New(apperrors.CodeStorageSaveFailed, "token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT OR REPLACE INTO credentials (name, value, username, updated_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, authTokenName, token, username, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save token", err)
	}

	s.log.Info("credential saved", "username", username)
	return nil
}

// Credential returns the stored credential. The second result is false when
// none is stored.
func (s *SQLiteStore) Credential() (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `SELECT value, username, updated_at FROM credentials WHERE name = ?`

	var (
		c         Credential
		updatedAt string
	)
	err := s.db.QueryRow(query, authTokenName).Scan(&c.Token, &c.Username, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "read token", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return c, true, nil
}

// Token returns the stored session token, or "" when none is stored.
func (s *SQLiteStore) Token() (string, error) {
	c, _, err := s.Credential()
	return c.Token, err
}

// ClearToken removes the stored session token. Clearing an empty store is
// not an error.
func (s *SQLiteStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM credentials WHERE name = ?`, authTokenName); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "clear token", err)
	}
	s.log.Info("credential cleared")
	return nil
}
