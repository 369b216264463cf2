package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Archive mirrors completed saves into Postgres for durable history. It is
// best-effort: the coordinator records through it after a successful store
// write and ignores archive failures beyond logging them.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// RecordSave upserts the latest save for a session, keyed by session id.
func (a *Archive) RecordSave(ctx context.Context, sessionID string, payload []byte, moveIndex int, savedAt time.Time) error {
	if a == nil || a.db == nil {
		return nil
	}
	const q = `INSERT INTO session_saves (
	    id, session_id, payload, move_index, saved_at
	  ) VALUES ($1, $2, $3::jsonb, $4, $5)
	  ON CONFLICT (session_id) DO UPDATE SET
	    payload=EXCLUDED.payload,
	    move_index=EXCLUDED.move_index,
	    saved_at=EXCLUDED.saved_at`
	_, err := a.db.ExecContext(ctx, q,
		uuid.NewString(), strings.TrimSpace(sessionID), string(payload), moveIndex, savedAt,
	)
	return err
}
