package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/beam-cloud/indexsync/pkg/types"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	// sync_state schema
	_ "github.com/beam-cloud/indexsync/pkg/repository/state_postgres_migrations"
)

// PostgresRole tells the two databases indexsync talks to apart
type PostgresRole string

const (
	// RoleSource is the content database the extractor reads changed rows from.
	// indexsync never writes to it.
	RoleSource PostgresRole = "source"

	// RoleState is the optional database holding the sync_state table
	RoleState PostgresRole = "state"
)

const connectTimeout = 10 * time.Second

// PostgresBackend is a connection pool to either the source or the state database
type PostgresBackend struct {
	db   *sql.DB
	role PostgresRole
}

// OpenSourceDatabase connects to the content database. Sessions default to
// read-only so a stray write fails on the server.
func OpenSourceDatabase(ctx context.Context, cfg types.PostgresConfig) (*PostgresBackend, error) {
	return openPostgres(ctx, RoleSource, cfg)
}

// OpenStateDatabase connects to the state database and applies the
// sync_state migrations.
func OpenStateDatabase(ctx context.Context, cfg types.PostgresConfig) (*PostgresBackend, error) {
	backend, err := openPostgres(ctx, RoleState, cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.migrate(); err != nil {
		backend.Close()
		return nil, err
	}
	return backend, nil
}

func openPostgres(ctx context.Context, role PostgresRole, cfg types.PostgresConfig) (*PostgresBackend, error) {
	cfg = postgresDefaults(role, cfg)

	db, err := sql.Open("postgres", DSN(role, cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", role, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database %s:%d: %w", role, cfg.Host, cfg.Port, err)
	}

	log.Info().
		Str("role", string(role)).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("postgres connected")

	return &PostgresBackend{db: db, role: role}, nil
}

// postgresDefaults fills unset fields. The extractor holds one cursor at a
// time and the state store has a single writer, so both pools stay small.
func postgresDefaults(role PostgresRole, cfg types.PostgresConfig) types.PostgresConfig {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	switch role {
	case RoleSource:
		if cfg.Database == "" {
			cfg.Database = "movies_database"
		}
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 4
		}
	case RoleState:
		if cfg.Database == "" {
			cfg.Database = "indexsync"
		}
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 2
		}
	}
	if cfg.MaxIdleConns == 0 || cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns / 2
	}
	return cfg
}

// DSN renders a lib/pq key=value connection string. Parameters lib/pq does not
// know itself are sent to the server as session settings.
func DSN(role PostgresRole, cfg types.PostgresConfig) string {
	params := []string{
		"host=" + quoteDSN(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + quoteDSN(cfg.User),
		"password=" + quoteDSN(cfg.Password),
		"dbname=" + quoteDSN(cfg.Database),
		"sslmode=" + quoteDSN(cfg.SSLMode),
		fmt.Sprintf("connect_timeout=%d", int(connectTimeout.Seconds())),
		"application_name=" + quoteDSN("indexsync-"+string(role)),
	}
	if role == RoleSource {
		params = append(params, "default_transaction_read_only=on")
	}
	return strings.Join(params, " ")
}

// quoteDSN quotes values that are empty or contain spaces, quotes or backslashes
func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (b *PostgresBackend) DB() *sql.DB {
	return b.db
}

func (b *PostgresBackend) Role() PostgresRole {
	return b.role
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// migrate brings the sync_state table up to date
func (b *PostgresBackend) migrate() error {
	if b.role != RoleState {
		return fmt.Errorf("refusing to migrate the %s database", b.role)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(b.db, "."); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	version, err := goose.GetDBVersion(b.db)
	if err != nil {
		return fmt.Errorf("read state schema version: %w", err)
	}

	log.Info().Int64("version", version).Msg("state database migrated")
	return nil
}
