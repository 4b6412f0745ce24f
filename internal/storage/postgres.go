package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// PostgresSchema is the DDL for the PostgreSQL backend. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS user_config (
    user_id        TEXT PRIMARY KEY,
    hello          TEXT NOT NULL,
    bye            TEXT NOT NULL,
    read_nickname  TEXT,
    voice_type     BIGINT NOT NULL,
    generator_type SMALLINT NOT NULL
);
CREATE TABLE IF NOT EXISTS dict (
    seq  BIGSERIAL,
    word TEXT PRIMARY KEY,
    read TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dict_seq ON dict(seq);
CREATE TABLE IF NOT EXISTS speaker (
    id             BIGSERIAL PRIMARY KEY,
    generator_type SMALLINT NOT NULL,
    speaker_uuid   TEXT NOT NULL DEFAULT '',
    style_id       BIGINT NOT NULL,
    name           TEXT NOT NULL,
    style_name     TEXT NOT NULL,
    UNIQUE (generator_type, style_id)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db       DB
	defaults Defaults
	pool     *pgxpool.Pool // non-nil only when created by OpenPostgres
}

// NewPostgresStore wraps an existing connection or pool. The caller owns db
// and must call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB, defaults Defaults) *PostgresStore {
	return &PostgresStore{db: db, defaults: defaults}
}

// OpenPostgres connects a pgx pool to dsn and returns a store that owns it.
func OpenPostgres(ctx context.Context, dsn string, defaults Defaults) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	return &PostgresStore{db: pool, defaults: defaults, pool: pool}, nil
}

// Migrate creates the tables if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// UserConfigOrDefault implements Store.
func (s *PostgresStore) UserConfigOrDefault(ctx context.Context, userID string) (UserConfig, error) {
	def := s.defaults.UserConfig(userID)
	const query = `
		INSERT INTO user_config (user_id, hello, bye, read_nickname, voice_type, generator_type)
		VALUES ($1, $2, $3, NULL, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, hello, bye, read_nickname, voice_type, generator_type`

	var (
		cfg UserConfig
		gen int64
	)
	err := s.db.QueryRow(ctx, query, userID, def.Hello, def.Bye, def.VoiceType, int64(def.GeneratorType)).
		Scan(&cfg.UserID, &cfg.Hello, &cfg.Bye, &cfg.ReadNickname, &cfg.VoiceType, &gen)
	if err != nil {
		return UserConfig{}, fmt.Errorf("storage: user config %q: %w", userID, err)
	}
	if cfg.GeneratorType, err = tts.GeneratorFromID(gen); err != nil {
		return UserConfig{}, fmt.Errorf("storage: user config %q: %w", userID, err)
	}
	return cfg, nil
}

// UpdateUserConfig implements Store.
func (s *PostgresStore) UpdateUserConfig(ctx context.Context, cfg UserConfig) error {
	const query = `
		INSERT INTO user_config (user_id, hello, bye, read_nickname, voice_type, generator_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			hello = EXCLUDED.hello,
			bye = EXCLUDED.bye,
			read_nickname = EXCLUDED.read_nickname,
			voice_type = EXCLUDED.voice_type,
			generator_type = EXCLUDED.generator_type`
	_, err := s.db.Exec(ctx, query,
		cfg.UserID, cfg.Hello, cfg.Bye, cfg.ReadNickname, cfg.VoiceType, int64(cfg.GeneratorType))
	if err != nil {
		return fmt.Errorf("storage: update user config %q: %w", cfg.UserID, err)
	}
	return nil
}

// Dict implements Store.
func (s *PostgresStore) Dict(ctx context.Context) ([]DictEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT word, read FROM dict ORDER BY seq`)
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
func (s *PostgresStore) AddDictEntry(ctx context.Context, e DictEntry) error {
	const query = `
		INSERT INTO dict (word, read) VALUES ($1, $2)
		ON CONFLICT (word) DO UPDATE SET read = EXCLUDED.read`
	if _, err := s.db.Exec(ctx, query, e.Word, e.Read); err != nil {
		return fmt.Errorf("storage: add dict entry %q: %w", e.Word, err)
	}
	return nil
}

// RemoveDictEntry implements Store.
func (s *PostgresStore) RemoveDictEntry(ctx context.Context, word string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM dict WHERE word = $1`, word)
	if err != nil {
		return false, fmt.Errorf("storage: remove dict entry %q: %w", word, err)
	}
	return tag.RowsAffected() > 0, nil
}

const speakerColumns = `id, generator_type, speaker_uuid, style_id, name, style_name`

// Speakers implements Store.
func (s *PostgresStore) Speakers(ctx context.Context) ([]Speaker, error) {
	rows, err := s.db.Query(ctx, `SELECT `+speakerColumns+` FROM speaker ORDER BY generator_type, id`)
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
func (s *PostgresStore) Speaker(ctx context.Context, id int64) (Speaker, error) {
	row := s.db.QueryRow(ctx, `SELECT `+speakerColumns+` FROM speaker WHERE id = $1`, id)
	sp, err := scanSpeaker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Speaker{}, ErrNotFound
		}
		return Speaker{}, fmt.Errorf("storage: speaker %d: %w", id, err)
	}
	return sp, nil
}

// ReplaceSpeakers implements Store. Stale rows are deleted after the upserts
// so concurrent readers never observe an empty catalogue.
func (s *PostgresStore) ReplaceSpeakers(ctx context.Context, gen tts.Generator, speakers []tts.Speaker) error {
	const upsert = `
		INSERT INTO speaker (generator_type, speaker_uuid, style_id, name, style_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (generator_type, style_id) DO UPDATE SET
			speaker_uuid = EXCLUDED.speaker_uuid,
			name = EXCLUDED.name,
			style_name = EXCLUDED.style_name`

	styles := make([]int64, 0, len(speakers))
	for _, sp := range speakers {
		if _, err := s.db.Exec(ctx, upsert, int64(gen), sp.SpeakerUUID, sp.StyleID, sp.Name, sp.StyleName); err != nil {
			return fmt.Errorf("storage: upsert speaker %s/%d: %w", gen, sp.StyleID, err)
		}
		styles = append(styles, sp.StyleID)
	}
	const prune = `DELETE FROM speaker WHERE generator_type = $1 AND NOT (style_id = ANY($2))`
	if _, err := s.db.Exec(ctx, prune, int64(gen), styles); err != nil {
		return fmt.Errorf("storage: prune speakers %s: %w", gen, err)
	}
	return nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// Close implements Store. It closes the pool only if the store opened it.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpeaker(row rowScanner) (Speaker, error) {
	var (
		sp  Speaker
		gen int64
	)
	if err := row.Scan(&sp.ID, &gen, &sp.SpeakerUUID, &sp.StyleID, &sp.Name, &sp.StyleName); err != nil {
		return Speaker{}, err
	}
	g, err := tts.GeneratorFromID(gen)
	if err != nil {
		return Speaker{}, err
	}
	sp.Generator = g
	return sp, nil
}
