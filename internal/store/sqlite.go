package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store/migrations"
)

const migrationTable = "schema_migrations"

// SQLite stores rooms and messages in a SQLite database.
type SQLite struct {
	db *sql.DB
}

var (
	_ MessageStore = (*SQLite)(nil)
	_ RoomStore    = (*SQLite)(nil)
)

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &SQLite{db: sqlDB}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (s *SQLite) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, author_id, author, text, image, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Author, msg.Text, msg.Image, toMillis(msg.CreatedAt),
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message seq: %w", err)
	}
	msg.Seq = uint64(seq)
	return msg, nil
}

func (s *SQLite) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, id, room_id, author_id, author, text, image, created_at FROM (
    SELECT seq, id, room_id, author_id, author, text, image, created_at
    FROM messages WHERE room_id = ?
    ORDER BY created_at DESC, seq DESC
    LIMIT ?
) ORDER BY created_at ASC, seq ASC`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			seq       int64
			createdAt int64
		)
		if err := rows.Scan(&seq, &msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Author, &msg.Text, &msg.Image, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Seq = uint64(seq)
		msg.CreatedAt = fromMillis(createdAt)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

func (s *SQLite) Clear(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteAll(ctx context.Context, roomID string) error {
	return s.Clear(ctx, roomID)
}

func (s *SQLite) CreateRoom(ctx context.Context, room chat.Room) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, creator, created_at) VALUES (?, ?, ?, ?)`,
		room.ID, room.Name, room.Creator, toMillis(room.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *SQLite) RoomByName(ctx context.Context, name string) (chat.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, creator, created_at FROM rooms WHERE name = ?`, name)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Room{}, ErrNotFound
	}
	if err != nil {
		return chat.Room{}, fmt.Errorf("get room %q: %w", name, err)
	}
	return room, nil
}

func (s *SQLite) ListRooms(ctx context.Context) ([]chat.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, creator, created_at FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []chat.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *SQLite) DeleteRoom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (chat.Room, error) {
	var (
		room      chat.Room
		createdAt int64
	)
	if err := row.Scan(&room.ID, &room.Name, &room.Creator, &createdAt); err != nil {
		return chat.Room{}, err
	}
	room.CreatedAt = fromMillis(createdAt)
	return room, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

// applyMigrations executes each embedded migration at most once, in file
// name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := extractUpMigration(string(content))

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func extractUpMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return strings.Replace(content, up, "", 1)
}
