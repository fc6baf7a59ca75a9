package state_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upSyncState, downSyncState)
}

func upSyncState(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS sync_state (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func downSyncState(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS sync_state`)
	return err
}
