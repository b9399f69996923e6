package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/veriserve/veriserve/pkg/storage"
)

// PostgresRecordStore is the shared-database implementation, for
// deployments where several serving nodes restore from one source of
// truth.
type PostgresRecordStore struct {
	db *sql.DB
}

// OpenPostgres connects to Postgres and runs migrations.
func OpenPostgres(dsn string) (*PostgresRecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &PostgresRecordStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresRecordStore wraps an existing database handle without
// running migrations.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS assets (
		full_path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		collection TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		headers JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS asset_encodings (
		full_path TEXT NOT NULL,
		encoding_type TEXT NOT NULL,
		modified TIMESTAMPTZ NOT NULL,
		total_length BIGINT NOT NULL,
		sha256 TEXT NOT NULL,
		content BYTEA NOT NULL,
		PRIMARY KEY (full_path, encoding_type)
	);
	CREATE INDEX IF NOT EXISTS idx_assets_collection ON assets (collection);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresRecordStore) SaveAsset(ctx context.Context, asset storage.Asset) error {
	headersJSON, err := json.Marshal(asset.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assets
			(full_path, name, collection, owner, token, description, headers, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (full_path) DO UPDATE SET
			name = EXCLUDED.name,
			collection = EXCLUDED.collection,
			owner = EXCLUDED.owner,
			token = EXCLUDED.token,
			description = EXCLUDED.description,
			headers = EXCLUDED.headers,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`,
		asset.Key.FullPath, asset.Key.Name, asset.Key.Collection, asset.Key.Owner,
		asset.Key.Token, asset.Key.Description, string(headersJSON),
		asset.CreatedAt, asset.UpdatedAt, asset.Version)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", asset.Key.FullPath, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_encodings WHERE full_path = $1`, asset.Key.FullPath); err != nil {
		return fmt.Errorf("clear encodings %s: %w", asset.Key.FullPath, err)
	}
	for encodingType, enc := range asset.Encodings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_encodings (full_path, encoding_type, modified, total_length, sha256, content)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			asset.Key.FullPath, encodingType, enc.Modified,
			enc.TotalLength, hex.EncodeToString(enc.SHA256[:]), enc.Content())
		if err != nil {
			return fmt.Errorf("insert encoding %s (%s): %w", asset.Key.FullPath, encodingType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) DeleteAsset(ctx context.Context, fullPath storage.FullPath) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_encodings WHERE full_path = $1`, fullPath); err != nil {
		return fmt.Errorf("delete encodings %s: %w", fullPath, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE full_path = $1`, fullPath); err != nil {
		return fmt.Errorf("delete asset %s: %w", fullPath, err)
	}
	return tx.Commit()
}

func (s *PostgresRecordStore) LoadAssets(ctx context.Context) ([]storage.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT full_path, name, collection, owner, token, description, headers, created_at, updated_at, version
		FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byPath := make(map[string]*storage.Asset)
	var order []string
	for rows.Next() {
		var (
			asset       storage.Asset
			headersJSON []byte
		)
		err := rows.Scan(&asset.Key.FullPath, &asset.Key.Name, &asset.Key.Collection,
			&asset.Key.Owner, &asset.Key.Token, &asset.Key.Description,
			&headersJSON, &asset.CreatedAt, &asset.UpdatedAt, &asset.Version)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if err := json.Unmarshal(headersJSON, &asset.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", asset.Key.FullPath, err)
		}
		asset.Encodings = make(map[storage.EncodingType]storage.AssetEncoding)
		byPath[asset.Key.FullPath] = &asset
		order = append(order, asset.Key.FullPath)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	encRows, err := s.db.QueryContext(ctx, `
		SELECT full_path, encoding_type, modified, total_length, sha256, content
		FROM asset_encodings`)
	if err != nil {
		return nil, fmt.Errorf("load encodings: %w", err)
	}
	defer func() { _ = encRows.Close() }()

	for encRows.Next() {
		var (
			fullPath     string
			encodingType string
			enc          storage.AssetEncoding
			shaHex       string
			content      []byte
		)
		err := encRows.Scan(&fullPath, &encodingType, &enc.Modified, &enc.TotalLength, &shaHex, &content)
		if err != nil {
			return nil, fmt.Errorf("scan encoding: %w", err)
		}
		raw, err := hex.DecodeString(shaHex)
		if err != nil || len(raw) != len(enc.SHA256) {
			return nil, fmt.Errorf("decode sha256 for %s: bad digest", fullPath)
		}
		copy(enc.SHA256[:], raw)
		enc.ContentChunks = [][]byte{content}
		if asset, ok := byPath[fullPath]; ok {
			asset.Encodings[encodingType] = enc
		}
	}
	if err := encRows.Err(); err != nil {
		return nil, fmt.Errorf("load encodings: %w", err)
	}

	out := make([]storage.Asset, 0, len(order))
	for _, fullPath := range order {
		out = append(out, *byPath[fullPath])
	}
	return out, nil
}

func (s *PostgresRecordStore) Close() error {
	return s.db.Close()
}
