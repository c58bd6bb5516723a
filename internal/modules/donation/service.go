// README: Donation service drives the lifecycle, delegating assignment to the matching engine.
package donation

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"foodbridge/internal/apperr"
	"foodbridge/internal/config"
	"foodbridge/internal/log"
	"foodbridge/internal/modules/capacity"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/modules/location"
	"foodbridge/internal/modules/matching"
	"foodbridge/internal/types"
)

// Repository is the donation store outside of a transaction.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Donation, error)
	CountActive(ctx context.Context, driverID, excluding types.ID) (int, error)
	ListEvents(ctx context.Context, id types.ID) ([]Event, error)
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is one atomic unit over donations and driver occupancy.
type Tx interface {
	Create(ctx context.Context, d *Donation) error
	Get(ctx context.Context, id types.ID) (*Donation, error)
	UpdateStatus(ctx context.Context, w StatusWrite) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	CountActive(ctx context.Context, driverID, excluding types.ID) (int, error)
	GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error)
	SetOccupancy(ctx context.Context, id types.ID, to driver.Occupancy) error
	ClaimDriver(ctx context.Context, id types.ID) (bool, error)
}

// Assignment is what the assigned driver is told about.
type Assignment struct {
	DonationID          types.ID
	DriverID            types.ID
	DeviceToken         string
	Pickup              string
	PreferredPickupTime time.Time
	DemandKg            float64
}

type Notifier interface {
	NotifyAssigned(ctx context.Context, a Assignment) error
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type RankingCache interface {
	GetRanking(ctx context.Context, donationID types.ID) (*matching.Ranking, bool, error)
	PutRanking(ctx context.Context, r *matching.Ranking) error
	Invalidate(ctx context.Context, donationID types.ID) error
	RecordAssignment(ctx context.Context, donationID types.ID, at time.Time, ranked []types.ID) error
}

type CreateCommand struct {
	Items               []types.FoodItem
	Pickup              Address
	PreferredPickupTime time.Time
	Notes               string
}

// StatusCommand is a generic transition request. At overrides the effect
// timestamp; DriverID only applies to assigned, ProofURL to delivered and
// Reason to cancelled.
type StatusCommand struct {
	Status   Status
	At       *time.Time
	Reason   string
	ProofURL string
	DriverID *types.ID
}

// maxClockSkew bounds how far in the future a caller supplied timestamp may be.
const maxClockSkew = 2 * time.Minute

var errLostRace = errors.New("assignment precondition failed")

type Service struct {
	repo     Repository
	drivers  matching.DriverSource
	engine   *matching.Engine
	clock    types.Clock
	geocoder location.Geocoder
	notifier Notifier
	events   Publisher
	cache    RankingCache
}

type Option func(s *Service) error

func WithClock(c types.Clock) Option {
	return func(s *Service) error {
		if c == nil {
			return errors.New("nil clock")
		}
		s.clock = c
		return nil
	}
}

func WithGeocoder(g location.Geocoder) Option {
	return func(s *Service) error {
		s.geocoder = g
		return nil
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) error {
		s.events = p
		return nil
	}
}

func WithRankingCache(c RankingCache) Option {
	return func(s *Service) error {
		s.cache = c
		return nil
	}
}

func NewService(repo Repository, drivers matching.DriverSource, cfg config.MatchingConfig, opts ...Option) (*Service, error) {
	if repo == nil || drivers == nil {
		return nil, errors.New("donation service needs a repository and a driver source")
	}
	s := &Service{
		repo:    repo,
		drivers: drivers,
		engine:  matching.NewEngine(drivers, driver.NewAvailabilityChecker(repo), cfg),
		clock:   types.SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Create(ctx context.Context, actor types.Actor, cmd CreateCommand) (*Donation, error) {
	if !actor.Is(types.RoleDonor) || actor.ID == "" {
		return nil, apperr.Forbidden("only donors can create donations")
	}
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	pickup := cmd.Pickup
	if pickup.Point == nil && s.geocoder != nil {
		p, err := s.geocoder.Geocode(ctx, pickup.Line())
		if err != nil {
			log.Warn(ctx, "pickup geocoding failed", log.Err("error", err))
		} else {
			pickup.Point = &p
		}
	}

	now := s.clock.Now()
	d := &Donation{
		ID:                  types.NewID(),
		DonorID:             actor.ID,
		Items:               cmd.Items,
		Pickup:              pickup,
		Notes:               strings.TrimSpace(cmd.Notes),
		Status:              StatusAvailable,
		StatusVersion:       0,
		PreferredPickupTime: cmd.PreferredPickupTime.UTC(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	ev := Event{
		DonationID: d.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusAvailable,
		ActorRole:  actor.Role,
		ActorID:    types.IDPtr(actor.ID),
		CreatedAt:  now,
	}
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		if err := tx.Create(ctx, d); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "donation created", log.ID("donation_id", d.ID), log.ID("donor_id", d.DonorID))
	s.publish(ctx, ev)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Donation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}

// Reserve claims an available donation for the calling receiver.
func (s *Service) Reserve(ctx context.Context, actor types.Actor, id types.ID) (*Donation, error) {
	return s.transition(ctx, actor, id, StatusReserved, StatusAvailable, reserveBy(actor))
}

// ListEligibleDrivers is the advisory ranking; it never writes donation state.
func (s *Service) ListEligibleDrivers(ctx context.Context, id types.ID) (*matching.Ranking, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		r, ok, err := s.cache.GetRanking(ctx, id)
		if err != nil {
			log.Warn(ctx, "ranking cache read failed", log.ID("donation_id", id), log.Err("error", err))
		} else if ok {
			fresh, err := s.engine.StillEligible(ctx, r)
			if err != nil {
				return nil, err
			}
			if fresh {
				return r, nil
			}
			log.Debug(ctx, "cached ranking is stale", log.ID("donation_id", id))
		}
	}
	r, err := s.engine.Advise(ctx, requestFor(d))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.PutRanking(ctx, r); err != nil {
			log.Warn(ctx, "ranking cache write failed", log.ID("donation_id", id), log.Err("error", err))
		}
	}
	return r, nil
}

// AssignDriver moves a reserved donation to assigned. With driverID nil the
// best-ranked driver is chosen; otherwise that driver is re-validated.
// The donation and driver writes are conditional and commit together.
// When nobody fits, the error is a *matching.CapacityError.
func (s *Service) AssignDriver(ctx context.Context, actor types.Actor, id types.ID, driverID *types.ID) (*Donation, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusReserved {
		return nil, apperr.InvalidState("donation %s is %s, expected %s", d.ID, d.Status, StatusReserved)
	}
	if err := Authorize(actor, d, StatusAssigned); err != nil {
		return nil, err
	}

	var ev Event
	chosen, ranking, err := s.engine.Commit(ctx, requestFor(d), driverID, func(ctx context.Context, c matching.Candidate) (bool, error) {
		now := s.clock.Now()
		w := StatusWrite{
			ID:       d.ID,
			From:     StatusReserved,
			To:       StatusAssigned,
			Version:  d.StatusVersion,
			DriverID: types.IDPtr(c.DriverID),
			At:       now,
		}
		err := s.repo.WithinTx(ctx, func(tx Tx) error {
			ok, err := tx.UpdateStatus(ctx, w)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}
			ok, err = tx.ClaimDriver(ctx, c.DriverID)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}
			ev = Event{
				DonationID: d.ID,
				FromStatus: StatusReserved,
				ToStatus:   StatusAssigned,
				ActorRole:  actor.Role,
				ActorID:    types.IDPtr(actor.ID),
				DriverID:   types.IDPtr(c.DriverID),
				CreatedAt:  now,
			}
			return tx.AppendEvent(ctx, &ev)
		})
		if errors.Is(err, errLostRace) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			log.Info(ctx, "assignment lost race", log.ID("donation_id", id), log.Err("error", err))
		}
		return nil, err
	}

	out, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "driver assigned",
		log.ID("donation_id", out.ID), log.ID("driver_id", chosen.DriverID))
	s.afterTransition(ctx, ev)
	s.recordAssignment(ctx, out, ranking)
	s.notifyAssigned(ctx, out, chosen)
	return out, nil
}

// UpdateStatus applies any transition of the lifecycle table.
func (s *Service) UpdateStatus(ctx context.Context, actor types.Actor, id types.ID, cmd StatusCommand) (*Donation, error) {
	switch cmd.Status {
	case StatusAssigned:
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := Authorize(actor, d, StatusAssigned); err != nil {
			return nil, err
		}
		return s.AssignDriver(ctx, actor, id, cmd.DriverID)
	case StatusReserved:
		return s.transition(ctx, actor, id, StatusReserved, StatusNone, reserveBy(actor))
	case StatusPickedUp:
		return s.transition(ctx, actor, id, StatusPickedUp, StatusNone, s.pickUp(cmd.At))
	case StatusDelivered:
		return s.transition(ctx, actor, id, StatusDelivered, StatusNone, s.deliver(cmd.At, cmd.ProofURL, false))
	case StatusCancelled:
		return s.transition(ctx, actor, id, StatusCancelled, StatusNone, s.cancel(cmd.At, cmd.Reason))
	case StatusAvailable:
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(d.Status) {
			return nil, apperr.InvalidState("donation %s is %s", d.ID, d.Status)
		}
		return nil, apperr.InvalidTransition("donation %s cannot move from %s back to %s", d.ID, d.Status, StatusAvailable)
	}
	return nil, apperr.BadRequest("unknown status %q", cmd.Status)
}

// UploadDeliveryProof completes a picked-up donation with a proof URL.
func (s *Service) UploadDeliveryProof(ctx context.Context, actor types.Actor, id types.ID, proofURL string) (*Donation, error) {
	return s.transition(ctx, actor, id, StatusDelivered, StatusPickedUp, s.deliver(nil, proofURL, true))
}

func (s *Service) Cancel(ctx context.Context, actor types.Actor, id types.ID, reason string) (*Donation, error) {
	return s.UpdateStatus(ctx, actor, id, StatusCommand{Status: StatusCancelled, Reason: reason})
}

// fillFunc adds the edge specific effects to w.
type fillFunc func(d *Donation, w *StatusWrite) error

// transition runs one guarded status write. requireFrom, when set, turns a
// source status mismatch into ErrInvalidState ahead of the table lookup.
// Leaving the active set re-syncs the bound driver in the same transaction.
func (s *Service) transition(ctx context.Context, actor types.Actor, id types.ID, to, requireFrom Status, fill fillFunc) (*Donation, error) {
	var (
		out *Donation
		ev  Event
	)
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		d, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if requireFrom != StatusNone && d.Status != requireFrom {
			return apperr.InvalidState("donation %s is %s, expected %s", d.ID, d.Status, requireFrom)
		}
		if err := Authorize(actor, d, to); err != nil {
			return err
		}

		w := StatusWrite{
			ID:      d.ID,
			From:    d.Status,
			To:      to,
			Version: d.StatusVersion,
			At:      s.clock.Now(),
		}
		if fill != nil {
			if err := fill(d, &w); err != nil {
				return err
			}
		}
		ok, err := tx.UpdateStatus(ctx, w)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("donation %s changed concurrently", d.ID)
		}

		if d.DriverID != nil && d.Status.IsActive() && !to.IsActive() {
			occ, err := driver.NewSynchronizer(tx, tx).Sync(ctx, *d.DriverID, d.ID)
			if err != nil {
				return err
			}
			log.Debug(ctx, "driver occupancy synced",
				log.ID("driver_id", *d.DriverID), log.ID("occupancy", occ))
		}

		ev = Event{
			DonationID: d.ID,
			FromStatus: d.Status,
			ToStatus:   to,
			ActorRole:  actor.Role,
			ActorID:    types.IDPtr(actor.ID),
			DriverID:   d.DriverID,
			CreatedAt:  w.At,
		}
		if err := tx.AppendEvent(ctx, &ev); err != nil {
			return err
		}
		out, err = tx.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "donation status changed",
		log.ID("donation_id", id), log.ID("from", ev.FromStatus), log.ID("to", ev.ToStatus))
	s.afterTransition(ctx, ev)
	return out, nil
}

func reserveBy(actor types.Actor) fillFunc {
	return func(_ *Donation, w *StatusWrite) error {
		w.ReceiverID = types.IDPtr(actor.ID)
		return nil
	}
}

func (s *Service) pickUp(at *time.Time) fillFunc {
	return func(d *Donation, w *StatusWrite) error {
		t, err := s.effectiveTime(d, at, w.At)
		if err != nil {
			return err
		}
		w.ActualPickupTime = &t
		return nil
	}
}

func (s *Service) deliver(at *time.Time, proofURL string, proofRequired bool) fillFunc {
	return func(d *Donation, w *StatusWrite) error {
		ref := strings.TrimSpace(proofURL)
		if ref == "" && proofRequired {
			return apperr.BadRequest("proof url is required")
		}
		if ref != "" {
			if err := validateProofURL(ref); err != nil {
				return err
			}
			w.Proof = &Proof{URL: ref, UploadedAt: w.At}
		}
		t, err := s.effectiveTime(d, at, w.At)
		if err != nil {
			return err
		}
		if d.ActualPickupTime != nil && t.Before(*d.ActualPickupTime) {
			return apperr.BadRequest("delivery time precedes pickup time")
		}
		w.ActualDeliveryTime = &t
		return nil
	}
}

func (s *Service) cancel(at *time.Time, reason string) fillFunc {
	return func(d *Donation, w *StatusWrite) error {
		t, err := s.effectiveTime(d, at, w.At)
		if err != nil {
			return err
		}
		w.CancelledAt = &t
		w.ClearReceiver = true
		if r := strings.TrimSpace(reason); r != "" {
			w.CancelReason = &r
		}
		return nil
	}
}

// effectiveTime resolves a caller supplied timestamp against now.
func (s *Service) effectiveTime(d *Donation, at *time.Time, now time.Time) (time.Time, error) {
	if at == nil || at.IsZero() {
		return now, nil
	}
	t := at.UTC()
	if t.After(now.Add(maxClockSkew)) {
		return time.Time{}, apperr.BadRequest("timestamp %s is in the future", t.Format(time.RFC3339))
	}
	if t.Before(d.CreatedAt) {
		return time.Time{}, apperr.BadRequest("timestamp %s precedes donation creation", t.Format(time.RFC3339))
	}
	return t, nil
}

func (s *Service) afterTransition(ctx context.Context, ev Event) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, ev.DonationID); err != nil {
			log.Warn(ctx, "ranking cache invalidation failed", log.ID("donation_id", ev.DonationID), log.Err("error", err))
		}
	}
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Warn(ctx, "event publish failed",
			log.ID("donation_id", ev.DonationID), log.ID("to", ev.ToStatus), log.Err("error", err))
	}
}

func (s *Service) recordAssignment(ctx context.Context, d *Donation, r *matching.Ranking) {
	if s.cache == nil {
		return
	}
	var ranked []types.ID
	if r != nil {
		for _, c := range r.Candidates {
			ranked = append(ranked, c.DriverID)
		}
	}
	if err := s.cache.RecordAssignment(ctx, d.ID, d.UpdatedAt, ranked); err != nil {
		log.Warn(ctx, "assignment record failed", log.ID("donation_id", d.ID), log.Err("error", err))
	}
}

func (s *Service) notifyAssigned(ctx context.Context, d *Donation, c matching.Candidate) {
	if s.notifier == nil {
		return
	}
	drv, err := s.drivers.Get(ctx, c.DriverID)
	if err != nil {
		log.Warn(ctx, "assigned driver lookup failed", log.ID("driver_id", c.DriverID), log.Err("error", err))
		return
	}
	err = s.notifier.NotifyAssigned(ctx, Assignment{
		DonationID:          d.ID,
		DriverID:            drv.ID,
		DeviceToken:         drv.DeviceToken,
		Pickup:              d.Pickup.Line(),
		PreferredPickupTime: d.PreferredPickupTime,
		DemandKg:            capacity.DemandKg(d.Items),
	})
	if err != nil {
		log.Warn(ctx, "assignment notification failed",
			log.ID("donation_id", d.ID), log.ID("driver_id", drv.ID), log.Err("error", err))
	}
}

func requestFor(d *Donation) matching.Request {
	return matching.Request{DonationID: d.ID, Pickup: d.Pickup.Point, Items: d.Items}
}

func validateCreate(cmd CreateCommand) error {
	if len(cmd.Items) == 0 {
		return apperr.BadRequest("at least one food item is required")
	}
	for i, it := range cmd.Items {
		if strings.TrimSpace(it.Name) == "" {
			return apperr.BadRequest("item %d: name is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.BadRequest("item %d: quantity must be positive", i)
		}
		if !it.Unit.Valid() {
			return apperr.BadRequest("item %d: unknown unit %q", i, it.Unit)
		}
	}
	if cmd.PreferredPickupTime.IsZero() {
		return apperr.BadRequest("preferred pickup time is required")
	}
	if strings.TrimSpace(cmd.Pickup.Street) == "" || strings.TrimSpace(cmd.Pickup.City) == "" {
		return apperr.BadRequest("pickup street and city are required")
	}
	if p := cmd.Pickup.Point; p != nil {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return apperr.BadRequest("pickup coordinates out of range")
		}
	}
	return nil
}

func validateProofURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return apperr.BadRequest("proof url must be an absolute http(s) url")
	}
	return nil
}
