// Package store は生成履歴をSQLiteに永続化します。
// 完了したジョブのツリーペイロードを保存し、後からの再エクスポートを
// 可能にします。
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound は指定した生成履歴が存在しない場合のエラー
	ErrNotFound = errors.New("generation not found")
)

// Record は保存された1回の生成結果です
type Record struct {
	// ID はジョブID
	ID string
	// DocumentID は対象ドキュメントのID
	DocumentID string
	// DocumentTitle は対象ドキュメントの表示名
	DocumentTitle string
	// ModelID は生成に使用したモデル
	ModelID string
	// PromptDigest はプロンプトのダイジェスト
	PromptDigest string
	// NodeCount はツリーのノード数
	NodeCount int
	// Payload はエクスポート用のJSONペイロード（{meta, root}）
	Payload []byte
	// CreatedAt は保存時刻
	CreatedAt time.Time
}

// Store は生成履歴データベースです
type Store struct {
	db *sql.DB
}

// Open はdataDir配下のSQLiteデータベースを開き（なければ作成し）、
// 未適用のマイグレーションを実行します。
// dataDir に ":memory:" を渡すとインメモリDBになります（テスト用）。
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "submind.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// "database is locked" を避けるため単一コネクションに制限する
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close はデータベース接続を閉じます
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveGeneration は生成結果を保存します
func (s *Store) SaveGeneration(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations
			(id, document_id, document_title, model_id, prompt_digest, node_count, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentID, rec.DocumentTitle, rec.ModelID,
		rec.PromptDigest, rec.NodeCount, rec.Payload, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving generation %s: %w", rec.ID, err)
	}
	return nil
}

// GetGeneration はIDで生成履歴を1件取得します
func (s *Store) GetGeneration(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, document_title, model_id, prompt_digest, node_count, payload, created_at
		FROM generations WHERE id = ?`, id)

	var rec Record
	err := row.Scan(&rec.ID, &rec.DocumentID, &rec.DocumentTitle, &rec.ModelID,
		&rec.PromptDigest, &rec.NodeCount, &rec.Payload, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading generation %s: %w", id, err)
	}
	return &rec, nil
}

// ListGenerations は生成履歴を新しい順に返します（ペイロードは含みません）
func (s *Store) ListGenerations(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, document_title, model_id, prompt_digest, node_count, created_at
		FROM generations ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.DocumentTitle, &rec.ModelID,
			&rec.PromptDigest, &rec.NodeCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// migrate は埋め込みSQLマイグレーションを未適用分だけ実行します
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// parseMigrationVersion はファイル名先頭の数値をバージョンとして読み取ります
func parseMigrationVersion(name string) (int, error) {
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.Index(base, "_")
	if idx < 0 {
		idx = len(base)
	}
	version, err := strconv.Atoi(base[:idx])
	if err != nil {
		return 0, fmt.Errorf("invalid migration filename %q: %w", name, err)
	}
	return version, nil
}
