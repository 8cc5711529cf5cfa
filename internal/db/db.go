package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the database and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS gatherings (
        id SERIAL PRIMARY KEY,
        type TEXT NOT NULL CHECK (type IN ('meeting', 'carpool')),
        creator_id INT NOT NULL,
        title TEXT NOT NULL,
        university TEXT NOT NULL DEFAULT '',
        datetime TIMESTAMPTZ NOT NULL,
        max_participants INT NOT NULL CHECK (max_participants >= 2),
        status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'expired', 'deleted_by_admin')),
        location TEXT,
        departure TEXT,
        arrival TEXT,
        kicked_user_ids INT[] NOT NULL DEFAULT '{}',
        tags TEXT[] NOT NULL DEFAULT '{}',
        purpose TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS gatherings_browse_idx ON gatherings (type, university, status, datetime);`,
	`CREATE TABLE IF NOT EXISTS gathering_participants (
        gathering_id INT NOT NULL REFERENCES gatherings(id) ON DELETE CASCADE,
        user_id INT NOT NULL,
        joined_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (gathering_id, user_id)
    );`,
	`CREATE INDEX IF NOT EXISTS gathering_participants_user_idx ON gathering_participants (user_id);`,
	`CREATE TABLE IF NOT EXISTS gathering_messages (
        id SERIAL PRIMARY KEY,
        gathering_id INT NOT NULL REFERENCES gatherings(id) ON DELETE CASCADE,
        sender_id INT NOT NULL DEFAULT 0,
        text TEXT NOT NULL,
        is_system_message BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS gathering_messages_log_idx ON gathering_messages (gathering_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS gathering_acknowledgements (
        gathering_id INT NOT NULL REFERENCES gatherings(id) ON DELETE CASCADE,
        user_id INT NOT NULL,
        kind TEXT NOT NULL CHECK (kind IN ('kick', 'delete')),
        acknowledged_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (gathering_id, user_id, kind)
    );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
