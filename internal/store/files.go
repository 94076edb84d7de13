package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// GetFile returns the bytes stored under a content hash. The export
// tolerates a file disappearing between listing and fetching; the error is
// isolated per archive item one layer up.
func (s *Store) GetFile(ctx context.Context, hash string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM files WHERE hash = ?`, hash).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s not found", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", hash, err)
	}
	return content, nil
}

// PutFile stores content under its SHA-256 and returns the hash. Storing
// the same bytes twice is a no-op.
func (s *Store) PutFile(ctx context.Context, content []byte) (string, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (hash, content) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING`,
		hash, content,
	)
	if err != nil {
		return "", fmt.Errorf("store file: %w", err)
	}
	return hash, nil
}
