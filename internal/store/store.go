// Package store persists the local game catalog and play-session history in
// an embedded SQLite database. Store is the sole writer to the database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a game or session does not exist.
var ErrNotFound = errors.New("store: not found")

// SQL statements.
const (
	sqlGameColumns = `id, title, process_label, save_folder_path, remote_id, added_at`

	sqlListGames = `SELECT ` + sqlGameColumns + ` FROM games ORDER BY title COLLATE NOCASE, id`

	sqlGetGame = `SELECT ` + sqlGameColumns + ` FROM games WHERE id = ?`

	sqlInsertGame = `INSERT INTO games (` + sqlGameColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

	sqlDeleteGame = `DELETE FROM games WHERE id = ?`

	sqlSetSaveFolder = `UPDATE games SET save_folder_path = ? WHERE id = ?`

	sqlInsertSession = `INSERT INTO sessions (id, game_id, started_at, ended_at, play_seconds)
		VALUES (?, ?, ?, ?, ?)`

	sqlListSessions = `SELECT id, game_id, started_at, ended_at, play_seconds
		FROM sessions WHERE (? = '' OR game_id = ?) ORDER BY started_at DESC`

	sqlTotalPlay = `SELECT COALESCE(SUM(play_seconds), 0) FROM sessions WHERE game_id = ?`
)

// Game is a local catalog entry.
type Game struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ProcessLabel   string    `json:"process_label,omitempty"`
	SaveFolderPath string    `json:"save_folder_path,omitempty"`
	RemoteID       string    `json:"remote_id,omitempty"`
	AddedAt        time.Time `json:"added_at"`
}

// Session is one recorded play session.
type Session struct {
	ID          string    `json:"id"`
	GameID      string    `json:"game_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	PlaySeconds int64     `json:"play_seconds"`
}

// Store wraps the library database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the SQLite database at dbPath and applies
// migrations. The database uses WAL mode with synchronous=FULL.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("library database ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// ListGames returns every game ordered by title.
func (s *Store) ListGames(ctx context.Context) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, sqlListGames)
	if err != nil {
		return nil, fmt.Errorf("store: listing games: %w", err)
	}
	defer rows.Close()

	var games []Game

	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}

		games = append(games, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating games: %w", err)
	}

	return games, nil
}

// GetGame returns one game or ErrNotFound.
func (s *Store) GetGame(ctx context.Context, id string) (*Game, error) {
	g, err := scanGame(s.db.QueryRowContext(ctx, sqlGetGame, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: game %s: %w", id, ErrNotFound)
	}

	return g, err
}

// InsertGame adds a game. AddedAt defaults to now.
func (s *Store) InsertGame(ctx context.Context, g *Game) error {
	if g.ID == "" || g.Title == "" {
		return fmt.Errorf("store: game id and title are required")
	}

	if g.AddedAt.IsZero() {
		g.AddedAt = s.nowFunc().UTC()
	}

	_, err := s.db.ExecContext(ctx, sqlInsertGame,
		g.ID, g.Title, nullString(g.ProcessLabel), nullString(g.SaveFolderPath),
		nullString(g.RemoteID), g.AddedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: inserting game %s: %w", g.ID, err)
	}

	s.logger.Debug("game inserted", slog.String("game_id", g.ID), slog.String("title", g.Title))

	return nil
}

// DeleteGame removes a game and, by cascade, its session history.
func (s *Store) DeleteGame(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteGame, id)
	if err != nil {
		return fmt.Errorf("store: deleting game %s: %w", id, err)
	}

	if err := expectOneRow(res, id); err != nil {
		return err
	}

	s.logger.Debug("game deleted", slog.String("game_id", id))

	return nil
}

// SetSaveFolderPath sets or clears (empty path) a game's save folder.
func (s *Store) SetSaveFolderPath(ctx context.Context, id, path string) error {
	res, err := s.db.ExecContext(ctx, sqlSetSaveFolder, nullString(path), id)
	if err != nil {
		return fmt.Errorf("store: setting save folder for %s: %w", id, err)
	}

	return expectOneRow(res, id)
}

// SaveFolderPath returns a game's save folder, or "" when unset.
func (s *Store) SaveFolderPath(ctx context.Context, id string) (string, error) {
	g, err := s.GetGame(ctx, id)
	if err != nil {
		return "", err
	}

	return g.SaveFolderPath, nil
}

// RecordSession appends a finished session to the history.
func (s *Store) RecordSession(ctx context.Context, sess *Session) error {
	if sess.PlaySeconds < 0 {
		return fmt.Errorf("store: negative play time for session %s", sess.ID)
	}

	_, err := s.db.ExecContext(ctx, sqlInsertSession,
		sess.ID, sess.GameID, sess.StartedAt.UnixNano(), sess.EndedAt.UnixNano(), sess.PlaySeconds,
	)
	if err != nil {
		return fmt.Errorf("store: recording session %s: %w", sess.ID, err)
	}

	s.logger.Info("session recorded",
		slog.String("session_id", sess.ID),
		slog.String("game_id", sess.GameID),
		slog.Int64("play_seconds", sess.PlaySeconds),
	)

	return nil
}

// ListSessions returns sessions newest first. An empty gameID lists all.
func (s *Store) ListSessions(ctx context.Context, gameID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, sqlListSessions, gameID, gameID)
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session

	for rows.Next() {
		var (
			sess             Session
			started, stopped int64
		)

		if err := rows.Scan(&sess.ID, &sess.GameID, &started, &stopped, &sess.PlaySeconds); err != nil {
			return nil, fmt.Errorf("store: scanning session row: %w", err)
		}

		sess.StartedAt = time.Unix(0, started).UTC()
		sess.EndedAt = time.Unix(0, stopped).UTC()
		out = append(out, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating sessions: %w", err)
	}

	return out, nil
}

// TotalPlaySeconds sums the recorded play time for a game.
func (s *Store) TotalPlaySeconds(ctx context.Context, gameID string) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, sqlTotalPlay, gameID).Scan(&total); err != nil {
		return 0, fmt.Errorf("store: summing play time for %s: %w", gameID, err)
	}

	return total, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*Game, error) {
	var (
		g            Game
		processLabel sql.NullString
		saveFolder   sql.NullString
		remoteID     sql.NullString
		addedAt      int64
	)

	err := row.Scan(&g.ID, &g.Title, &processLabel, &saveFolder, &remoteID, &addedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("store: scanning game row: %w", err)
	}

	g.ProcessLabel = processLabel.String
	g.SaveFolderPath = saveFolder.String
	g.RemoteID = remoteID.String
	g.AddedAt = time.Unix(0, addedAt).UTC()

	return &g, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected for %s: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("store: game %s: %w", id, ErrNotFound)
	}

	return nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
