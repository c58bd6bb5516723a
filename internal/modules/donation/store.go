// README: Donation store backed by PostgreSQL; transactions span donations and users.
package donation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodbridge/internal/apperr"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/types"
)

// StatusWrite is one compare-and-swap on (status, status_version). Nil
// fields leave the column untouched.
type StatusWrite struct {
	ID                 types.ID
	From               Status
	To                 Status
	Version            int
	ReceiverID         *types.ID
	ClearReceiver      bool
	DriverID           *types.ID
	ActualPickupTime   *time.Time
	ActualDeliveryTime *time.Time
	Proof              *Proof
	CancelledAt        *time.Time
	CancelReason       *string
	At                 time.Time
}

type Store struct {
	pool *pgxpool.Pool
	db   driver.Queryer
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

const donationColumns = `
	id, donor_id, receiver_id, driver_id, items,
	pickup_street, pickup_city, pickup_state, pickup_postal_code, pickup_country,
	pickup_lat, pickup_lng, notes, status, status_version,
	preferred_pickup_time, actual_pickup_time, actual_delivery_time,
	proof_url, proof_uploaded_at, cancelled_at, cancel_reason,
	created_at, updated_at`

func (s *Store) Create(ctx context.Context, d *Donation) error {
	items, err := json.Marshal(d.Items)
	if err != nil {
		return apperr.Internal("donation.Create", err)
	}
	var lat, lng *float64
	if d.Pickup.Point != nil {
		lat, lng = &d.Pickup.Point.Lat, &d.Pickup.Point.Lng
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO donations (
			id, donor_id, items,
			pickup_street, pickup_city, pickup_state, pickup_postal_code, pickup_country,
			pickup_lat, pickup_lng, notes, status, status_version,
			preferred_pickup_time, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16
		)`,
		string(d.ID), string(d.DonorID), items,
		d.Pickup.Street, d.Pickup.City, d.Pickup.State, d.Pickup.PostalCode, d.Pickup.Country,
		lat, lng, d.Notes, string(d.Status), d.StatusVersion,
		d.PreferredPickupTime, d.CreatedAt, d.UpdatedAt,
	)
	return apperr.Internal("donation.Create", err)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Donation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, string(id))
	d, err := scanDonation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("donation %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("donation.Get", err)
	}
	return d, nil
}

// UpdateStatus applies w if the row is still at (w.From, w.Version).
func (s *Store) UpdateStatus(ctx context.Context, w StatusWrite) (bool, error) {
	var proofURL *string
	var proofAt *time.Time
	if w.Proof != nil {
		proofURL, proofAt = &w.Proof.URL, &w.Proof.UploadedAt
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE donations
		SET status = $1,
			status_version = status_version + 1,
			receiver_id = CASE WHEN $2 THEN NULL ELSE COALESCE($3, receiver_id) END,
			driver_id = COALESCE($4, driver_id),
			actual_pickup_time = COALESCE($5, actual_pickup_time),
			actual_delivery_time = COALESCE($6, actual_delivery_time),
			proof_url = COALESCE($7, proof_url),
			proof_uploaded_at = COALESCE($8, proof_uploaded_at),
			cancelled_at = COALESCE($9, cancelled_at),
			cancel_reason = COALESCE($10, cancel_reason),
			updated_at = $11
		WHERE id = $12 AND status = $13 AND status_version = $14`,
		string(w.To),
		w.ClearReceiver,
		idString(w.ReceiverID),
		idString(w.DriverID),
		w.ActualPickupTime,
		w.ActualDeliveryTime,
		proofURL,
		proofAt,
		w.CancelledAt,
		w.CancelReason,
		w.At,
		string(w.ID),
		string(w.From),
		w.Version,
	)
	if err != nil {
		return false, apperr.Internal("donation.UpdateStatus", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountActive counts the driver's donations in assigned or picked_up.
func (s *Store) CountActive(ctx context.Context, driverID, excluding types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM donations
		WHERE driver_id = $1
		  AND status IN ('assigned', 'picked_up')
		  AND id <> $2`,
		string(driverID), string(excluding),
	).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("donation.CountActive", err)
	}
	return n, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO donation_state_events (
			donation_id, from_status, to_status, actor_role, actor_id, driver_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.DonationID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		idString(e.ActorID),
		idString(e.DriverID),
		e.CreatedAt,
	).Scan(&e.ID)
	return apperr.Internal("donation.AppendEvent", err)
}

func (s *Store) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, donation_id, from_status, to_status, actor_role, actor_id, driver_id, created_at
		FROM donation_state_events
		WHERE donation_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, apperr.Internal("donation.ListEvents", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID, driverID *string
		if err := rows.Scan(&e.ID, &e.DonationID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &actorID, &driverID, &e.CreatedAt); err != nil {
			return nil, apperr.Internal("donation.ListEvents", err)
		}
		e.ActorID = toIDPtr(actorID)
		e.DriverID = toIDPtr(driverID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("donation.ListEvents", err)
	}
	return out, nil
}

// WithinTx runs fn against one pgx transaction covering donations and users.
// The transaction commits only if fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if s.pool == nil {
		return errors.New("donation store: nested transaction")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal("donation.Begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{Store: &Store{db: tx}, drivers: driver.NewStore(tx)}); err != nil {
		return err
	}
	return apperr.Internal("donation.Commit", tx.Commit(ctx))
}

// pgTx exposes the donation and driver stores bound to one transaction.
type pgTx struct {
	*Store
	drivers *driver.Store
}

func (t *pgTx) GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	return t.drivers.Get(ctx, id)
}

func (t *pgTx) SetOccupancy(ctx context.Context, id types.ID, to driver.Occupancy) error {
	return t.drivers.SetOccupancy(ctx, id, to)
}

func (t *pgTx) ClaimDriver(ctx context.Context, id types.ID) (bool, error) {
	return t.drivers.ClaimOccupancy(ctx, id)
}

func scanDonation(row pgx.Row) (*Donation, error) {
	var d Donation
	var items []byte
	var receiverID, driverID, proofURL *string
	var lat, lng *float64
	var proofAt *time.Time
	err := row.Scan(
		&d.ID, &d.DonorID, &receiverID, &driverID, &items,
		&d.Pickup.Street, &d.Pickup.City, &d.Pickup.State, &d.Pickup.PostalCode, &d.Pickup.Country,
		&lat, &lng, &d.Notes, &d.Status, &d.StatusVersion,
		&d.PreferredPickupTime, &d.ActualPickupTime, &d.ActualDeliveryTime,
		&proofURL, &proofAt, &d.CancelledAt, &d.CancelReason,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &d.Items); err != nil {
		return nil, err
	}
	d.ReceiverID = toIDPtr(receiverID)
	d.DriverID = toIDPtr(driverID)
	if lat != nil && lng != nil {
		d.Pickup.Point = &types.Point{Lat: *lat, Lng: *lng}
	}
	if proofURL != nil {
		p := Proof{URL: *proofURL}
		if proofAt != nil {
			p.UploadedAt = *proofAt
		}
		d.DeliveryProof = &p
	}
	return &d, nil
}

func idString(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
