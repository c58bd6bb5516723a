// README: Driver store backed by the PostgreSQL users table.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"foodbridge/internal/apperr"
	"foodbridge/internal/types"
)

// Queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db Queryer
}

func NewStore(db Queryer) *Store {
	return &Store{db: db}
}

const driverColumns = `id, name, role, active, vehicle_class, occupancy, reputation, lat, lng, device_token, updated_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+driverColumns+`
		FROM users
		WHERE id = $1`, string(id),
	)
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("driver %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("driver.Get", err)
	}
	return d, nil
}

// ListCandidates returns drivers passing the cached pre-filter: active,
// occupancy available and with known coordinates.
func (s *Store) ListCandidates(ctx context.Context) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+`
		FROM users
		WHERE role = 'driver'
		  AND active
		  AND occupancy = 'available'
		  AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, apperr.Internal("driver.ListCandidates", err)
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, apperr.Internal("driver.ListCandidates", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("driver.ListCandidates", err)
	}
	return out, nil
}

// SetOccupancy overwrites the cached flag. Only the synchronizer calls it.
func (s *Store) SetOccupancy(ctx context.Context, id types.ID, to Occupancy) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET occupancy = $1, updated_at = NOW()
		WHERE id = $2 AND role = 'driver'`,
		string(to), string(id),
	)
	if err != nil {
		return apperr.Internal("driver.SetOccupancy", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("driver %s not found", id)
	}
	return nil
}

// ClaimOccupancy flips available to busy. It reports false when the driver
// was no longer available at write time.
func (s *Store) ClaimOccupancy(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET occupancy = 'busy', updated_at = NOW()
		WHERE id = $1 AND role = 'driver' AND active AND occupancy = 'available'`,
		string(id),
	)
	if err != nil {
		return false, apperr.Internal("driver.ClaimOccupancy", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert writes a driver row. Used by the seed command.
func (s *Store) Upsert(ctx context.Context, d *Driver) error {
	var lat, lng *float64
	if d.Position != nil {
		lat, lng = &d.Position.Lat, &d.Position.Lng
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (`+driverColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			vehicle_class = EXCLUDED.vehicle_class,
			occupancy = EXCLUDED.occupancy,
			reputation = EXCLUDED.reputation,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			device_token = EXCLUDED.device_token,
			updated_at = EXCLUDED.updated_at`,
		string(d.ID), d.Name, string(d.Role), d.Active, string(d.VehicleClass),
		string(d.Occupancy), d.Reputation, lat, lng, d.DeviceToken, d.UpdatedAt,
	)
	return apperr.Internal("driver.Upsert", err)
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng *float64
	var vehicle, token *string
	err := row.Scan(
		&d.ID, &d.Name, &d.Role, &d.Active, &vehicle, &d.Occupancy,
		&d.Reputation, &lat, &lng, &token, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if vehicle != nil {
		d.VehicleClass = types.VehicleClass(*vehicle)
	}
	if token != nil {
		d.DeviceToken = *token
	}
	if lat != nil && lng != nil {
		d.Position = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}
