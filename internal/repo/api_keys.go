package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"pdiquest/internal/domain"
)

const apiKeyColumns = `id, actor_id, COALESCE(name,''), key_hash, created_at, last_used_at, revoked_at`

// HashAPIKey is the SHA-256 hex digest stored in place of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	if key.ID == "" || key.ActorID == "" || key.KeyHash == "" {
		return fmt.Errorf("api key %q: id, actor_id and key_hash are required", key.ID)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, FormatTime(key.CreatedAt))
	return err
}

// FindActiveAPIKey resolves a key hash. Revoked keys are ErrNotFound.
func (r Repo) FindActiveAPIKey(ctx context.Context, hash string) (domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=? AND revoked_at IS NULL`, hash)
	if err != nil {
		return domain.APIKey{}, err
	}
	return singleAPIKey(rows)
}

func (r Repo) GetAPIKey(ctx context.Context, tx *sql.Tx, id string) (domain.APIKey, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id=?`, id)
	if err != nil {
		return domain.APIKey{}, err
	}
	return singleAPIKey(rows)
}

// ListAPIKeys returns the actor's keys, newest first, revoked ones included.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE actor_id=? ORDER BY created_at DESC, id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TouchAPIKey records a successful authentication.
func (r Repo) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, FormatTime(at), id)
	return err
}

// RevokeAPIKey disables a key. Revoking an unknown or already revoked key is ErrNotFound.
func (r Repo) RevokeAPIKey(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE api_keys SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, FormatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func singleAPIKey(rows *sql.Rows) (domain.APIKey, error) {
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.APIKey{}, err
		}
		return domain.APIKey{}, ErrNotFound
	}
	return scanAPIKey(rows)
}

func scanAPIKey(rows *sql.Rows) (domain.APIKey, error) {
	var (
		key           domain.APIKey
		created       string
		used, revoked sql.NullString
	)
	if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &created, &used, &revoked); err != nil {
		return key, err
	}
	var err error
	if key.CreatedAt, err = parseTime(created); err != nil {
		return key, err
	}
	if key.LastUsedAt, err = optionalTime(used); err != nil {
		return key, err
	}
	if key.RevokedAt, err = optionalTime(revoked); err != nil {
		return key, err
	}
	return key, nil
}

func optionalTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
