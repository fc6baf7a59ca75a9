package repository

import (
	"context"
	"testing"
	"time"

	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDefaultsPerRole(t *testing.T) {
	source := postgresDefaults(RoleSource, types.PostgresConfig{})
	assert.Equal(t, "movies_database", source.Database)
	assert.Equal(t, 4, source.MaxOpenConns)
	assert.Equal(t, 2, source.MaxIdleConns)
	assert.Equal(t, 5432, source.Port)

	state := postgresDefaults(RoleState, types.PostgresConfig{MaxIdleConns: 8})
	assert.Equal(t, "indexsync", state.Database)
	assert.Equal(t, 2, state.MaxOpenConns)
	assert.Equal(t, 1, state.MaxIdleConns, "idle connections never exceed the pool size")

	explicit := postgresDefaults(RoleSource, types.PostgresConfig{Host: "db", Database: "content", MaxOpenConns: 10, MaxIdleConns: 3})
	assert.Equal(t, "db", explicit.Host)
	assert.Equal(t, "content", explicit.Database)
	assert.Equal(t, 3, explicit.MaxIdleConns)
}

func TestDSNSourceSessionsAreReadOnly(t *testing.T) {
	cfg := postgresDefaults(RoleSource, types.PostgresConfig{User: "app", Password: "s3cret"})

	dsn := DSN(RoleSource, cfg)
	assert.Contains(t, dsn, "dbname=movies_database")
	assert.Contains(t, dsn, "application_name=indexsync-source")
	assert.Contains(t, dsn, "default_transaction_read_only=on")

	assert.NotContains(t, DSN(RoleState, cfg), "default_transaction_read_only")
}

func TestDSNQuotesValues(t *testing.T) {
	dsn := DSN(RoleState, types.PostgresConfig{Host: "h", Port: 5432, User: "u", Password: `it's a \pass`, Database: "d", SSLMode: "disable"})
	assert.Contains(t, dsn, `password='it\'s a \\pass'`)

	empty := DSN(RoleState, types.PostgresConfig{Host: "h", Port: 5432, User: "u", Database: "d", SSLMode: "disable"})
	assert.Contains(t, empty, "password=''")
}

func TestOpenSourceDatabaseUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := OpenSourceDatabase(ctx, types.PostgresConfig{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "ping source database 127.0.0.1:1")
}
