// README: In-memory donation and driver store with copy-on-write transactions.
package memstore

import (
	"context"
	"sort"
	"sync"

	"foodbridge/internal/apperr"
	"foodbridge/internal/modules/donation"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/types"
)

type state struct {
	donations   map[types.ID]donation.Donation
	drivers     map[types.ID]driver.Driver
	events      []donation.Event
	nextEventID int64
}

func (st *state) clone() *state {
	out := &state{
		donations:   make(map[types.ID]donation.Donation, len(st.donations)),
		drivers:     make(map[types.ID]driver.Driver, len(st.drivers)),
		events:      append([]donation.Event(nil), st.events...),
		nextEventID: st.nextEventID,
	}
	for k, v := range st.donations {
		out.donations[k] = v
	}
	for k, v := range st.drivers {
		out.drivers[k] = v
	}
	return out
}

// Store satisfies donation.Repository. Transactions hold the write lock for
// their whole duration and publish their working copy only on success.
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: &state{
		donations: map[types.ID]donation.Donation{},
		drivers:   map[types.ID]driver.Driver{},
	}}
}

func (s *Store) Get(_ context.Context, id types.ID) (*donation.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getDonation(id)
}

func (s *Store) CountActive(_ context.Context, driverID, excluding types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.countActive(driverID, excluding), nil
}

func (s *Store) ListEvents(_ context.Context, id types.ID) ([]donation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []donation.Event
	for _, e := range s.st.events {
		if e.DonationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) WithinTx(_ context.Context, fn func(donation.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Drivers returns the driver side of the store.
func (s *Store) Drivers() *Drivers {
	return &Drivers{s: s}
}

// Drivers satisfies matching.DriverSource.
type Drivers struct {
	s *Store
}

func (d *Drivers) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	return d.s.st.getDriver(id)
}

func (d *Drivers) ListCandidates(_ context.Context) ([]*driver.Driver, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	var out []*driver.Driver
	for _, v := range d.s.st.drivers {
		if driver.Prefilter(&v) {
			cp := v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert replaces the driver record. Used by seeding and tests.
func (d *Drivers) Upsert(_ context.Context, drv *driver.Driver) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.st.drivers[drv.ID] = *drv
	return nil
}

func (st *state) getDonation(id types.ID) (*donation.Donation, error) {
	d, ok := st.donations[id]
	if !ok {
		return nil, apperr.NotFound("donation %s not found", id)
	}
	d.Items = append([]types.FoodItem(nil), d.Items...)
	return &d, nil
}

func (st *state) getDriver(id types.ID) (*driver.Driver, error) {
	d, ok := st.drivers[id]
	if !ok {
		return nil, apperr.NotFound("driver %s not found", id)
	}
	return &d, nil
}

func (st *state) countActive(driverID, excluding types.ID) int {
	n := 0
	for id, d := range st.donations {
		if id == excluding || d.DriverID == nil || *d.DriverID != driverID {
			continue
		}
		if d.Status.IsActive() {
			n++
		}
	}
	return n
}
