package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// SQLiteSchema is the DDL for the SQLite backend.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS user_config (
    user_id        TEXT PRIMARY KEY,
    hello          TEXT NOT NULL,
    bye            TEXT NOT NULL,
    read_nickname  TEXT,
    voice_type     INTEGER NOT NULL,
    generator_type INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dict (
    seq  INTEGER PRIMARY KEY AUTOINCREMENT,
    word TEXT NOT NULL UNIQUE,
    read TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS speaker (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    generator_type INTEGER NOT NULL,
    speaker_uuid   TEXT NOT NULL DEFAULT '',
    style_id       INTEGER NOT NULL,
    name           TEXT NOT NULL,
    style_name     TEXT NOT NULL,
    UNIQUE (generator_type, style_id)
);
`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a [Store] backed by a SQLite file through the pure-Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db       *sql.DB
	defaults Defaults
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string, defaults Defaults) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %q: %w", path, err)
	}
	// SQLite allows a single writer; serialising through one connection
	// avoids SQLITE_BUSY under concurrent command handlers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, defaults: defaults}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not already exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// UserConfigOrDefault implements Store.
func (s *SQLiteStore) UserConfigOrDefault(ctx context.Context, userID string) (UserConfig, error) {
	def := s.defaults.UserConfig(userID)
	const insert = `
		INSERT INTO user_config (user_id, hello, bye, read_nickname, voice_type, generator_type)
		VALUES (?, ?, ?, NULL, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, insert, userID, def.Hello, def.Bye, def.VoiceType, int64(def.GeneratorType)); err != nil {
		return UserConfig{}, fmt.Errorf("storage: user config %q: %w", userID, err)
	}

	const query = `
		SELECT user_id, hello, bye, read_nickname, voice_type, generator_type
		FROM user_config WHERE user_id = ?`
	var (
		cfg  UserConfig
		nick sql.NullString
		gen  int64
	)
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&cfg.UserID, &cfg.Hello, &cfg.Bye, &nick, &cfg.VoiceType, &gen)
	if err != nil {
		return UserConfig{}, fmt.Errorf("storage: user config %q: %w", userID, err)
	}
	if nick.Valid {
		cfg.ReadNickname = &nick.String
	}
	if cfg.GeneratorType, err = tts.GeneratorFromID(gen); err != nil {
		return UserConfig{}, fmt.Errorf("storage: user config %q: %w", userID, err)
	}
	return cfg, nil
}

// UpdateUserConfig implements Store.
func (s *SQLiteStore) UpdateUserConfig(ctx context.Context, cfg UserConfig) error {
	const query = `
		INSERT INTO user_config (user_id, hello, bye, read_nickname, voice_type, generator_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			hello = excluded.hello,
			bye = excluded.bye,
			read_nickname = excluded.read_nickname,
			voice_type = excluded.voice_type,
			generator_type = excluded.generator_type`
	var nick sql.NullString
	if cfg.ReadNickname != nil {
		nick = sql.NullString{String: *cfg.ReadNickname, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		cfg.UserID, cfg.Hello, cfg.Bye, nick, cfg.VoiceType, int64(cfg.GeneratorType))
	if err != nil {
		return fmt.Errorf("storage: update user config %q: %w", cfg.UserID, err)
	}
	return nil
}

// Dict implements Store.
func (s *SQLiteStore) Dict(ctx context.Context) ([]DictEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word, read FROM dict ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("storage: dict: %w", err)
	}
	defer rows.Close()

	var out []DictEntry
	for rows.Next() {
		var e DictEntry
		if err := rows.Scan(&e.Word, &e.Read); err != nil {
			return nil, fmt.Errorf("storage: dict scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: dict: %w", err)
	}
	return out, nil
}

// AddDictEntry implements Store.
func (s *SQLiteStore) AddDictEntry(ctx context.Context, e DictEntry) error {
	const query = `
		INSERT INTO dict (word, read) VALUES (?, ?)
		ON CONFLICT (word) DO UPDATE SET read = excluded.read`
	if _, err := s.db.ExecContext(ctx, query, e.Word, e.Read); err != nil {
		return fmt.Errorf("storage: add dict entry %q: %w", e.Word, err)
	}
	return nil
}

// RemoveDictEntry implements Store.
func (s *SQLiteStore) RemoveDictEntry(ctx context.Context, word string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dict WHERE word = ?`, word)
	if err != nil {
		return false, fmt.Errorf("storage: remove dict entry %q: %w", word, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: remove dict entry %q: %w", word, err)
	}
	return n > 0, nil
}

// Speakers implements Store.
func (s *SQLiteStore) Speakers(ctx context.Context) ([]Speaker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+speakerColumns+` FROM speaker ORDER BY generator_type, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: speakers: %w", err)
	}
	defer rows.Close()

	var out []Speaker
	for rows.Next() {
		sp, err := scanSpeaker(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: speakers scan: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: speakers: %w", err)
	}
	return out, nil
}

// Speaker implements Store.
func (s *SQLiteStore) Speaker(ctx context.Context, id int64) (Speaker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+speakerColumns+` FROM speaker WHERE id = ?`, id)
	sp, err := scanSpeaker(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Speaker{}, ErrNotFound
		}
		return Speaker{}, fmt.Errorf("storage: speaker %d: %w", id, err)
	}
	return sp, nil
}

// ReplaceSpeakers implements Store. The whole replacement runs in one
// transaction.
func (s *SQLiteStore) ReplaceSpeakers(ctx context.Context, gen tts.Generator, speakers []tts.Speaker) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: replace speakers: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	keep := make(map[int64]struct{}, len(speakers))
	const upsert = `
		INSERT INTO speaker (generator_type, speaker_uuid, style_id, name, style_name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (generator_type, style_id) DO UPDATE SET
			speaker_uuid = excluded.speaker_uuid,
			name = excluded.name,
			style_name = excluded.style_name`
	for _, sp := range speakers {
		if _, err = tx.ExecContext(ctx, upsert, int64(gen), sp.SpeakerUUID, sp.StyleID, sp.Name, sp.StyleName); err != nil {
			return fmt.Errorf("storage: upsert speaker %s/%d: %w", gen, sp.StyleID, err)
		}
		keep[sp.StyleID] = struct{}{}
	}

	rows, err := tx.QueryContext(ctx, `SELECT style_id FROM speaker WHERE generator_type = ?`, int64(gen))
	if err != nil {
		return fmt.Errorf("storage: replace speakers: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var style int64
		if err = rows.Scan(&style); err != nil {
			rows.Close()
			return fmt.Errorf("storage: replace speakers: %w", err)
		}
		if _, ok := keep[style]; !ok {
			stale = append(stale, style)
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return fmt.Errorf("storage: replace speakers: %w", err)
	}
	for _, style := range stale {
		if _, err = tx.ExecContext(ctx, `DELETE FROM speaker WHERE generator_type = ? AND style_id = ?`, int64(gen), style); err != nil {
			return fmt.Errorf("storage: prune speaker %s/%d: %w", gen, style, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: replace speakers: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
