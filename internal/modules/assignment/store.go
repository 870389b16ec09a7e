// README: Pending-queue snapshots in PostgreSQL so the queue survives restarts.
package assignment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lastmile/internal/modules/parcel"
	"lastmile/internal/types"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	pendingQueued          = "queued"
	pendingManualAttention = "manual_attention"
)

type PendingStore struct {
	db DB
}

func NewPendingStore(db DB) *PendingStore {
	return &PendingStore{db: db}
}

// SavePending writes the entry as the parcel's current snapshot.
func (s *PendingStore) SavePending(ctx context.Context, e QueueEntry) error {
	return s.upsert(ctx, e, pendingQueued)
}

// ParkPending keeps the entry but takes it out of future restores.
func (s *PendingStore) ParkPending(ctx context.Context, e QueueEntry) error {
	return s.upsert(ctx, e, pendingManualAttention)
}

func (s *PendingStore) upsert(ctx context.Context, e QueueEntry, state string) error {
	req, err := json.Marshal(e.Request)
	if err != nil {
		return errors.Wrap(err, "encode pending request")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pending_assignments (
			parcel_id, request, attempts, enqueued_at, last_error, not_before, state, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (parcel_id) DO UPDATE SET
			request = EXCLUDED.request,
			attempts = EXCLUDED.attempts,
			enqueued_at = EXCLUDED.enqueued_at,
			last_error = EXCLUDED.last_error,
			not_before = EXCLUDED.not_before,
			state = EXCLUDED.state,
			updated_at = NOW()`,
		string(e.ParcelID()),
		req,
		e.Attempts,
		e.EnqueuedAt,
		e.LastError,
		e.NotBefore,
		state,
	)
	return errors.Wrapf(err, "save pending %s", e.ParcelID())
}

func (s *PendingStore) DeletePending(ctx context.Context, parcelID types.ID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM pending_assignments WHERE parcel_id = $1`, string(parcelID))
	return errors.Wrapf(err, "delete pending %s", parcelID)
}

// LoadPendingQueue returns queued snapshots oldest first. Parked parcels are
// left out.
func (s *PendingStore) LoadPendingQueue(ctx context.Context) ([]QueueEntry, error) {
	return s.list(ctx, pendingQueued)
}

// ListParked returns parcels waiting for manual attention.
func (s *PendingStore) ListParked(ctx context.Context) ([]QueueEntry, error) {
	return s.list(ctx, pendingManualAttention)
}

func (s *PendingStore) list(ctx context.Context, state string) ([]QueueEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT request, attempts, enqueued_at, last_error, not_before
		FROM pending_assignments
		WHERE state = $1
		ORDER BY enqueued_at, parcel_id`, state,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s parcels", state)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var raw []byte
		var attempts int
		var enqueuedAt time.Time
		var lastError string
		var notBefore time.Time
		if err := rows.Scan(&raw, &attempts, &enqueuedAt, &lastError, &notBefore); err != nil {
			return nil, errors.Wrap(err, "scan pending")
		}
		var req parcel.DecisionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, errors.Wrap(err, "decode pending request")
		}
		out = append(out, QueueEntry{
			Request:    req,
			Attempts:   attempts,
			EnqueuedAt: enqueuedAt,
			NotBefore:  notBefore,
			LastError:  lastError,
		})
	}
	return out, errors.Wrap(rows.Err(), "iterate pending")
}
