// README: Decision and override store backed by PostgreSQL (JSONB payloads, idempotent inserts).
package decision

import (
	"context"
	"encoding/json"
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

// SaveDecision inserts the record once; a retried insert of the same id is a no-op.
func (s *Store) SaveDecision(ctx context.Context, d Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode decision")
	}
	var selected *string
	if d.Selected != nil {
		v := string(d.Selected.VehicleID)
		selected = &v
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO decisions (
			id, parcel_id, selected_vehicle_id, shadow_mode, executed, payload, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		string(d.ID),
		string(d.ParcelID),
		selected,
		d.ShadowMode,
		d.Executed,
		payload,
		d.DecidedAt,
	)
	return errors.Wrapf(err, "save decision %s", d.ID)
}

func (s *Store) GetDecision(ctx context.Context, id types.ID) (Decision, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM decisions WHERE id = $1`, string(id)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, ErrNotFound
	}
	if err != nil {
		return Decision{}, errors.Wrapf(err, "get decision %s", id)
	}
	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, errors.Wrapf(err, "decode decision %s", id)
	}
	return d, nil
}

// SaveOverride appends an override. Overrides are never updated or deleted.
func (s *Store) SaveOverride(ctx context.Context, o ManualOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return errors.Wrap(err, "encode override metadata")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO manual_overrides (
			id, decision_id, operator_id, reason, vehicle_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		string(o.ID),
		string(o.DecisionID),
		o.OperatorID,
		o.Reason,
		string(o.VehicleID),
		metadata,
		o.CreatedAt,
	)
	return errors.Wrapf(err, "save override %s", o.ID)
}

func (s *Store) ListOverrides(ctx context.Context, decisionID types.ID) ([]ManualOverride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, decision_id, operator_id, reason, vehicle_id, metadata, created_at
		FROM manual_overrides
		WHERE decision_id = $1
		ORDER BY created_at, id`, string(decisionID),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list overrides for %s", decisionID)
	}
	defer rows.Close()

	var out []ManualOverride
	for rows.Next() {
		var o ManualOverride
		var id, did, vid string
		var metadata []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &did, &o.OperatorID, &o.Reason, &vid, &metadata, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan override")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
				return nil, errors.Wrapf(err, "decode metadata for override %s", id)
			}
		}
		o.ID, o.DecisionID, o.VehicleID = types.ID(id), types.ID(did), types.ID(vid)
		o.CreatedAt = createdAt
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate overrides")
}

// ExecutedForParcel returns the parcel's executed decision, if any.
func (s *Store) ExecutedForParcel(ctx context.Context, parcelID types.ID) (Decision, bool, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `
		SELECT payload FROM decisions
		WHERE parcel_id = $1 AND executed
		ORDER BY decided_at DESC
		LIMIT 1`, string(parcelID),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, errors.Wrapf(err, "find executed decision for %s", parcelID)
	}
	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, false, errors.Wrapf(err, "decode decision for %s", parcelID)
	}
	return d, true, nil
}
