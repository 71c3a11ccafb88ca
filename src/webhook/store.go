package webhook

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Store 把录制场次落到 SQLite，进程重启后未收尾的场次可以续接。
type Store struct {
	db *sql.DB
}

// NewStore 打开（必要时创建）数据库并跑迁移
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// CreateSession 写入新场次及其首个文件
func (s *Store) CreateSession(ctx context.Context, session *RecordingSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recording_sessions (id, room_id, platform, opened_at, title, username)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.RoomID, session.Platform,
		session.OpenedAt.Unix(), session.Title, session.Username)
	if err != nil {
		return err
	}
	for i, f := range session.Files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_files (session_id, position, file_path, danmu_path)
			VALUES (?, ?, ?, ?)`,
			session.ID, i, f.Path, f.DanmuPath); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendFile 追加分段文件
func (s *Store) AppendFile(ctx context.Context, sessionID string, position int, file SessionFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO session_files (session_id, position, file_path, danmu_path)
		VALUES (?, ?, ?, ?)`,
		sessionID, position, file.Path, file.DanmuPath)
	return err
}

// CloseSession 标记场次收尾
func (s *Store) CloseSession(ctx context.Context, sessionID string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recording_sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		closedAt.Unix(), sessionID)
	return err
}

// LoadOpenSessions 读回所有未收尾的场次及其文件
func (s *Store) LoadOpenSessions(ctx context.Context) ([]*RecordingSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, platform, opened_at, title, username
		FROM recording_sessions WHERE closed_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*RecordingSession
	for rows.Next() {
		var session RecordingSession
		var openedAt int64
		if err := rows.Scan(&session.ID, &session.RoomID, &session.Platform,
			&openedAt, &session.Title, &session.Username); err != nil {
			return nil, err
		}
		session.OpenedAt = time.Unix(openedAt, 0)
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, session := range sessions {
		files, err := s.loadFiles(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		session.Files = files
	}
	return sessions, nil
}

func (s *Store) loadFiles(ctx context.Context, sessionID string) ([]SessionFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, danmu_path FROM session_files
		WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []SessionFile
	for rows.Next() {
		var f SessionFile
		if err := rows.Scan(&f.Path, &f.DanmuPath); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
