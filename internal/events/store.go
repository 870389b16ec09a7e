// README: Outbox journal backed by PostgreSQL; rows stay until the relay marks them delivered.
package events

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lastmile/internal/types"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO outbox_events (type, record_id, parcel_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (type, record_id) DO NOTHING`,
		string(e.Type), string(e.RecordID), string(e.ParcelID), e.OccurredAt, []byte(e.Payload),
	)
	return errors.Wrapf(err, "append %s %s", e.Type, e.RecordID)
}

// Claim marks up to limit open rows as claimed in one statement. SKIP LOCKED
// lets several relays claim disjoint batches.
func (s *Store) Claim(ctx context.Context, limit int, ttl time.Duration) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE outbox_events
		SET claimed_until = NOW() + $2 * INTERVAL '1 millisecond'
		WHERE (type, record_id) IN (
			SELECT type, record_id
			FROM outbox_events
			WHERE delivered_at IS NULL
			  AND dead_at IS NULL
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING type, record_id, parcel_id, occurred_at, payload, created_at`,
		limit, ttl.Milliseconds(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox events")
	}
	defer rows.Close()

	type claimed struct {
		event     Event
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		var typ, recordID, parcelID string
		var payload []byte
		if err := rows.Scan(&typ, &recordID, &parcelID, &c.event.OccurredAt, &payload, &c.createdAt); err != nil {
			return nil, errors.Wrap(err, "scan outbox event")
		}
		c.event.Type = Type(typ)
		c.event.RecordID = types.ID(recordID)
		c.event.ParcelID = types.ID(parcelID)
		c.event.Payload = payload
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate outbox events")
	}
	// RETURNING does not keep the subquery order.
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].createdAt.Before(batch[j].createdAt) })
	out := make([]Event, len(batch))
	for i, c := range batch {
		out[i] = c.event
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_events SET delivered_at = NOW(), claimed_until = NULL
		WHERE type = $1 AND record_id = $2`,
		string(e.Type), string(e.RecordID),
	)
	return errors.Wrapf(err, "mark %s %s delivered", e.Type, e.RecordID)
}

func (s *Store) MarkFailed(ctx context.Context, e Event, cause string, maxAttempts int) (bool, error) {
	var dead bool
	err := s.db.QueryRow(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $3,
		    claimed_until = NULL,
		    dead_at = CASE WHEN $4 > 0 AND attempts + 1 >= $4 THEN NOW() ELSE NULL END
		WHERE type = $1 AND record_id = $2
		RETURNING dead_at IS NOT NULL`,
		string(e.Type), string(e.RecordID), cause, maxAttempts,
	).Scan(&dead)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return dead, errors.Wrapf(err, "mark %s %s failed", e.Type, e.RecordID)
}
