package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veriserve/veriserve/pkg/storage"
)

// SQLiteRecordStore is the embedded single-file implementation.
type SQLiteRecordStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite-backed record store.
func OpenSQLite(dsn string) (*SQLiteRecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteRecordStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteRecordStore wraps an existing database handle.
func NewSQLiteRecordStore(db *sql.DB) (*SQLiteRecordStore, error) {
	s := &SQLiteRecordStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRecordStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS assets (
		full_path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		collection TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		headers JSON NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS asset_encodings (
		full_path TEXT NOT NULL,
		encoding_type TEXT NOT NULL,
		modified TEXT NOT NULL,
		total_length INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		content BLOB NOT NULL,
		PRIMARY KEY (full_path, encoding_type)
	);
	CREATE INDEX IF NOT EXISTS idx_assets_collection ON assets (collection);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteRecordStore) SaveAsset(ctx context.Context, asset storage.Asset) error {
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
		INSERT OR REPLACE INTO assets
			(full_path, name, collection, owner, token, description, headers, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.Key.FullPath, asset.Key.Name, asset.Key.Collection, asset.Key.Owner,
		asset.Key.Token, asset.Key.Description, string(headersJSON),
		asset.CreatedAt.UTC().Format(time.RFC3339Nano),
		asset.UpdatedAt.UTC().Format(time.RFC3339Nano),
		asset.Version)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", asset.Key.FullPath, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_encodings WHERE full_path = ?`, asset.Key.FullPath); err != nil {
		return fmt.Errorf("clear encodings %s: %w", asset.Key.FullPath, err)
	}
	for encodingType, enc := range asset.Encodings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_encodings (full_path, encoding_type, modified, total_length, sha256, content)
			VALUES (?, ?, ?, ?, ?, ?)`,
			asset.Key.FullPath, encodingType,
			enc.Modified.UTC().Format(time.RFC3339Nano),
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

func (s *SQLiteRecordStore) DeleteAsset(ctx context.Context, fullPath storage.FullPath) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_encodings WHERE full_path = ?`, fullPath); err != nil {
		return fmt.Errorf("delete encodings %s: %w", fullPath, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE full_path = ?`, fullPath); err != nil {
		return fmt.Errorf("delete asset %s: %w", fullPath, err)
	}
	return tx.Commit()
}

func (s *SQLiteRecordStore) LoadAssets(ctx context.Context) ([]storage.Asset, error) {
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
		asset, err := scanAssetRow(rows)
		if err != nil {
			return nil, err
		}
		byPath[asset.Key.FullPath] = asset
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
		fullPath, encodingType, enc, err := scanEncodingRow(encRows)
		if err != nil {
			return nil, err
		}
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

func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssetRow(row rowScanner) (*storage.Asset, error) {
	var (
		asset       storage.Asset
		headersJSON string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&asset.Key.FullPath, &asset.Key.Name, &asset.Key.Collection,
		&asset.Key.Owner, &asset.Key.Token, &asset.Key.Description,
		&headersJSON, &createdAt, &updatedAt, &asset.Version)
	if err != nil {
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	if err := json.Unmarshal([]byte(headersJSON), &asset.Headers); err != nil {
		return nil, fmt.Errorf("decode headers for %s: %w", asset.Key.FullPath, err)
	}
	if asset.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", asset.Key.FullPath, err)
	}
	if asset.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", asset.Key.FullPath, err)
	}
	asset.Encodings = make(map[storage.EncodingType]storage.AssetEncoding)
	return &asset, nil
}

func scanEncodingRow(row rowScanner) (string, string, storage.AssetEncoding, error) {
	var (
		fullPath     string
		encodingType string
		modified     string
		enc          storage.AssetEncoding
		shaHex       string
		content      []byte
	)
	err := row.Scan(&fullPath, &encodingType, &modified, &enc.TotalLength, &shaHex, &content)
	if err != nil {
		return "", "", enc, fmt.Errorf("scan encoding: %w", err)
	}
	if enc.Modified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return "", "", enc, fmt.Errorf("parse modified for %s: %w", fullPath, err)
	}
	raw, err := hex.DecodeString(shaHex)
	if err != nil || len(raw) != len(enc.SHA256) {
		return "", "", enc, fmt.Errorf("decode sha256 for %s: bad digest", fullPath)
	}
	copy(enc.SHA256[:], raw)
	enc.ContentChunks = [][]byte{content}
	return fullPath, encodingType, enc, nil
}
