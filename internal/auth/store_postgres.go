package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id              TEXT PRIMARY KEY,
	username        TEXT UNIQUE NOT NULL,
	password_hash   TEXT NOT NULL,
	salt            TEXT NOT NULL,
	roles           JSONB NOT NULL DEFAULT '[]',
	api_keys        JSONB NOT NULL DEFAULT '{}',
	last_login      TIMESTAMPTZ,
	failed_attempts INT NOT NULL DEFAULT 0,
	locked_until    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
)`

// PostgresRepository stores credentials in Postgres. Deployments that
// run several API replicas against one database use this instead of the
// encrypted file store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, credentialsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure credentials table: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Create(ctx context.Context, cred *Credential) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roles, apiKeys, err := marshalJSONFields(cred)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credentials (id, username, password_hash, salt, roles, api_keys, last_login, failed_attempts, locked_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		cred.ID, cred.Username, cred.PasswordHash, cred.Salt,
		roles, apiKeys, cred.LastLogin, cred.FailedAttempts, cred.LockedUntil, cred.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*Credential, error) {
	return r.getBy(ctx, "username = $1", username)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Credential, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *PostgresRepository) getBy(ctx context.Context, where string, arg any) (*Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, username, password_hash, salt, roles, api_keys, last_login, failed_attempts, locked_until, created_at
		FROM credentials
		WHERE ` + where

	row := r.pool.QueryRow(ctx, query, arg)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

func (r *PostgresRepository) Update(ctx context.Context, cred *Credential) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roles, apiKeys, err := marshalJSONFields(cred)
	if err != nil {
		return err
	}
	query := `
		UPDATE credentials
		SET password_hash = $2, salt = $3, roles = $4, api_keys = $5,
		    last_login = $6, failed_attempts = $7, locked_until = $8
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		cred.ID, cred.PasswordHash, cred.Salt, roles, apiKeys,
		cred.LastLogin, cred.FailedAttempts, cred.LockedUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, username, password_hash, salt, roles, api_keys, last_login, failed_attempts, locked_until, created_at
		FROM credentials
		ORDER BY username
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func marshalJSONFields(cred *Credential) ([]byte, []byte, error) {
	roles, err := json.Marshal(cred.Roles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal roles: %w", err)
	}
	apiKeys := cred.APIKeys
	if apiKeys == nil {
		apiKeys = map[string]string{}
	}
	keys, err := json.Marshal(apiKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal api keys: %w", err)
	}
	return roles, keys, nil
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var cred Credential
	var roles, apiKeys []byte
	if err := row.Scan(
		&cred.ID, &cred.Username, &cred.PasswordHash, &cred.Salt,
		&roles, &apiKeys, &cred.LastLogin, &cred.FailedAttempts,
		&cred.LockedUntil, &cred.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roles, &cred.Roles); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(apiKeys, &cred.APIKeys); err != nil {
		return nil, err
	}
	return &cred, nil
}
