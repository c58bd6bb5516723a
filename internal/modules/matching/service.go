// README: Matching engine: filter the driver pool, score survivors, select or advise.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foodbridge/internal/apperr"
	"foodbridge/internal/config"
	"foodbridge/internal/modules/capacity"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/modules/location"
	"foodbridge/internal/types"
)

// DriverSource is the read side of the user store the engine needs.
type DriverSource interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	ListCandidates(ctx context.Context) ([]*driver.Driver, error)
}

type Eligibility interface {
	IsEligible(ctx context.Context, d *driver.Driver) (bool, error)
}

// AssignFunc performs the conditional donation/driver write for the chosen
// candidate. It reports false when a precondition no longer held.
type AssignFunc func(ctx context.Context, c Candidate) (bool, error)

// CapacityError is the ErrCapacityExceeded outcome of Commit. It carries the
// empty ranking so callers can report what was considered.
type CapacityError struct {
	Ranking *Ranking
	err     *apperr.Error
}

func (e *CapacityError) Error() string { return e.err.Error() }

func (e *CapacityError) Unwrap() error { return e.err }

type Engine struct {
	drivers DriverSource
	checker Eligibility
	cfg     config.MatchingConfig
	now     func() time.Time
}

func NewEngine(drivers DriverSource, checker Eligibility, cfg config.MatchingConfig) *Engine {
	return &Engine{
		drivers: drivers,
		checker: checker,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Advise returns the ranked eligible drivers without mutating anything.
// The list is cut to the best driver plus MaxAlternates when that is set.
func (e *Engine) Advise(ctx context.Context, req Request) (*Ranking, error) {
	r, err := e.rank(ctx, req)
	if err != nil {
		return nil, err
	}
	if limit := e.cfg.MaxAlternates + 1; e.cfg.MaxAlternates > 0 && len(r.Candidates) > limit {
		r.Candidates = r.Candidates[:limit]
	}
	return r, nil
}

// Commit selects the best-ranked driver, or re-validates the preferred one,
// and hands it to assign. A lost race surfaces as ErrConflict.
// On ErrCapacityExceeded the returned Ranking explains the empty result.
func (e *Engine) Commit(ctx context.Context, req Request, preferred *types.ID, assign AssignFunc) (Candidate, *Ranking, error) {
	var (
		chosen  Candidate
		ranking *Ranking
		err     error
	)
	if preferred != nil {
		chosen, err = e.validate(ctx, req, *preferred)
		if err != nil {
			return Candidate{}, nil, err
		}
	} else {
		ranking, err = e.rank(ctx, req)
		if err != nil {
			return Candidate{}, nil, err
		}
		best, ok := ranking.Best()
		if !ok {
			return Candidate{}, ranking, &CapacityError{
				Ranking: ranking,
				err:     apperr.New(apperr.ErrCapacityExceeded, "%s", ranking.Reason),
			}
		}
		chosen = best
	}

	ok, err := assign(ctx, chosen)
	if err != nil {
		return Candidate{}, ranking, err
	}
	if !ok {
		return Candidate{}, ranking, apperr.Conflict("donation %s or driver %s changed during assignment", req.DonationID, chosen.DriverID)
	}
	return chosen, ranking, nil
}

// StillEligible reports whether every candidate of a previously computed
// ranking is still eligible by the live count. A driver deleted since then
// makes the ranking stale too.
func (e *Engine) StillEligible(ctx context.Context, r *Ranking) (bool, error) {
	for _, c := range r.Candidates {
		d, err := e.drivers.Get(ctx, c.DriverID)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		ok, err := e.checker.IsEligible(ctx, d)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) rank(ctx context.Context, req Request) (*Ranking, error) {
	if req.Pickup == nil {
		return nil, apperr.New(apperr.ErrMissingLocation, "donation %s has no pickup coordinates", req.DonationID)
	}
	pool, err := e.drivers.ListCandidates(ctx)
	if err != nil {
		return nil, err
	}

	demand := capacity.DemandKg(req.Items)
	r := &Ranking{
		DonationID: req.DonationID,
		DemandKg:   demand,
		Candidates: []Candidate{},
		Considered: len(pool),
		ComputedAt: e.now(),
	}
	for _, d := range pool {
		if !driver.Prefilter(d) || !capacity.Fits(d.VehicleClass, demand) {
			continue
		}
		ok, err := e.checker.IsEligible(ctx, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		r.Candidates = append(r.Candidates, candidateFor(d, req.Pickup, demand))
	}
	Sort(r.Candidates)

	if len(r.Candidates) == 0 {
		r.CapacityExceeded = true
		r.Reason = fmt.Sprintf("no eligible driver can carry %.1f kg (%d considered)", demand, len(pool))
	}
	return r, nil
}

func (e *Engine) validate(ctx context.Context, req Request, id types.ID) (Candidate, error) {
	d, err := e.drivers.Get(ctx, id)
	if err != nil {
		return Candidate{}, err
	}
	ok, err := e.checker.IsEligible(ctx, d)
	if err != nil {
		return Candidate{}, err
	}
	if !ok {
		return Candidate{}, apperr.New(apperr.ErrDriverUnavailable, "driver %s is not available", id)
	}
	demand := capacity.DemandKg(req.Items)
	if !capacity.Fits(d.VehicleClass, demand) {
		return Candidate{}, apperr.New(apperr.ErrDriverUnavailable,
			"driver %s carries %.0f kg, donation needs %.1f kg", id, capacity.CapacityKg(d.VehicleClass), demand)
	}
	return candidateFor(d, req.Pickup, demand), nil
}

func candidateFor(d *driver.Driver, pickup *types.Point, demand float64) Candidate {
	var dist float64
	if pickup != nil && d.Position != nil {
		dist = location.Between(*pickup, *d.Position)
	}
	util := capacity.Utilization(d.VehicleClass, demand)
	return Candidate{
		DriverID:     d.ID,
		Name:         d.Name,
		VehicleClass: d.VehicleClass,
		Reputation:   d.Reputation,
		DistanceKm:   dist,
		CapacityKg:   capacity.CapacityKg(d.VehicleClass),
		Utilization:  util,
		Score:        Score(dist, d.Reputation, util),
	}
}
