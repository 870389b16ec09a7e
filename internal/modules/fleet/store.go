// README: Fleet store backed by PostgreSQL; vehicle snapshots and atomic parcel loading.
package fleet

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"lastmile/internal/types"
)

var (
	ErrNotFound         = errors.New("vehicle not found")
	ErrCapacityConflict = errors.New("vehicle capacity changed concurrently")
	// ErrParcelAssigned means the parcel is already loaded on another vehicle.
	ErrParcelAssigned = errors.New("parcel already assigned to a vehicle")
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ListEligibleVehicles returns assignable vehicles matching the filter, ordered by id.
// The radius filter uses an equirectangular bounding box; exact distance is the
// routing collaborator's job. Load is not filtered here: a vehicle without room
// must still reach the evaluator so its capacity rejection is explained.
func (s *Store) ListEligibleVehicles(ctx context.Context, f Filter) ([]VehicleCandidate, error) {
	latDelta, lngDelta := boundingBox(f.Near, f.RadiusKm)
	rows, err := s.db.Query(ctx, `
		SELECT id, max_weight::text, current_weight::text, max_volume::text, current_volume::text,
		       lat, lng, route_stops, status, eligibility_score
		FROM vehicles
		WHERE status IN ('AVAILABLE', 'IN_TRANSIT')
		  AND eligibility_score >= $1
		  AND ($2::float8 <= 0 OR (lat BETWEEN $3 AND $4 AND lng BETWEEN $5 AND $6))
		ORDER BY id`,
		f.MinEligibility,
		f.RadiusKm,
		f.Near.Lat-latDelta, f.Near.Lat+latDelta,
		f.Near.Lng-lngDelta, f.Near.Lng+lngDelta,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list eligible vehicles")
	}
	defer rows.Close()

	var out []VehicleCandidate
	for rows.Next() {
		var v VehicleCandidate
		var id, status string
		var maxW, curW, maxV, curV string
		var stops []byte
		if err := rows.Scan(
			&id, &maxW, &curW, &maxV, &curV,
			&v.Location.Lat, &v.Location.Lng, &stops, &status, &v.EligibilityScore,
		); err != nil {
			return nil, errors.Wrap(err, "scan vehicle")
		}
		capacity, err := parseCapacity(maxW, curW, maxV, curV)
		if err != nil {
			return nil, errors.Wrapf(err, "vehicle %s", id)
		}
		v.ID = types.ID(id)
		v.Capacity = capacity
		v.Status = Status(status)
		if len(stops) > 0 {
			if err := json.Unmarshal(stops, &v.RouteStops); err != nil {
				return nil, errors.Wrapf(err, "decode route stops for vehicle %s", id)
			}
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "iterate vehicles")
}

// AssignParcel claims the parcel and loads it onto the vehicle in one
// transaction. The claim row makes the call parcel-idempotent: repeating it
// for the same vehicle is a no-op, and a second vehicle gets
// ErrParcelAssigned. The load itself is a conditional UPDATE, so a
// concurrent load that would overflow the vehicle fails with
// ErrCapacityConflict instead of overcommitting it.
func (s *Store) AssignParcel(ctx context.Context, vehicleID, parcelID types.ID, weight, volume decimal.Decimal) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin assignment")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO parcel_assignments (parcel_id, vehicle_id, weight, volume, assigned_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, NOW())
		ON CONFLICT (parcel_id) DO NOTHING`,
		string(parcelID), string(vehicleID), weight.String(), volume.String(),
	)
	if err != nil {
		return errors.Wrapf(err, "claim parcel %s", parcelID)
	}
	if tag.RowsAffected() == 0 {
		var holder string
		if err := tx.QueryRow(ctx, `SELECT vehicle_id FROM parcel_assignments WHERE parcel_id = $1`, string(parcelID)).Scan(&holder); err != nil {
			return errors.Wrapf(err, "read claim for parcel %s", parcelID)
		}
		if types.ID(holder) == vehicleID {
			return nil
		}
		return errors.Wrapf(ErrParcelAssigned, "parcel %s is on vehicle %s", parcelID, holder)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE vehicles
		SET current_weight = current_weight + $1::numeric,
		    current_volume = current_volume + $2::numeric,
		    updated_at = NOW()
		WHERE id = $3
		  AND status IN ('AVAILABLE', 'IN_TRANSIT')
		  AND current_weight + $1::numeric <= max_weight`,
		weight.String(), volume.String(), string(vehicleID),
	)
	if err != nil {
		return errors.Wrapf(err, "assign parcel %s to vehicle %s", parcelID, vehicleID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE id = $1)`, string(vehicleID)).Scan(&exists); err != nil {
			return errors.Wrap(err, "check vehicle exists")
		}
		if !exists {
			return ErrNotFound
		}
		return ErrCapacityConflict
	}
	return errors.Wrap(tx.Commit(ctx), "commit assignment")
}

func parseCapacity(maxW, curW, maxV, curV string) (Capacity, error) {
	var c Capacity
	var err error
	if c.MaxWeight, err = decimal.NewFromString(maxW); err != nil {
		return c, errors.Wrap(err, "max_weight")
	}
	if c.CurrentWeight, err = decimal.NewFromString(curW); err != nil {
		return c, errors.Wrap(err, "current_weight")
	}
	if c.MaxVolume, err = decimal.NewFromString(maxV); err != nil {
		return c, errors.Wrap(err, "max_volume")
	}
	if c.CurrentVolume, err = decimal.NewFromString(curV); err != nil {
		return c, errors.Wrap(err, "current_volume")
	}
	return c, nil
}

const kmPerDegree = 111.32

func boundingBox(center types.Point, radiusKm float64) (latDelta, lngDelta float64) {
	if radiusKm <= 0 {
		return 0, 0
	}
	latDelta = radiusKm / kmPerDegree
	cos := cosDeg(center.Lat)
	if cos < 0.01 {
		cos = 0.01
	}
	lngDelta = radiusKm / (kmPerDegree * cos)
	return latDelta, lngDelta
}
