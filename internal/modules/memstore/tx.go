package memstore

import (
	"context"

	"foodbridge/internal/apperr"
	"foodbridge/internal/modules/donation"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/types"
)

// tx works on a private copy of the state.
type tx struct {
	st *state
}

func (t *tx) Create(_ context.Context, d *donation.Donation) error {
	if _, ok := t.st.donations[d.ID]; ok {
		return apperr.Conflict("donation %s already exists", d.ID)
	}
	cp := *d
	cp.Items = append([]types.FoodItem(nil), d.Items...)
	t.st.donations[d.ID] = cp
	return nil
}

func (t *tx) Get(_ context.Context, id types.ID) (*donation.Donation, error) {
	return t.st.getDonation(id)
}

func (t *tx) UpdateStatus(_ context.Context, w donation.StatusWrite) (bool, error) {
	d, ok := t.st.donations[w.ID]
	if !ok || d.Status != w.From || d.StatusVersion != w.Version {
		return false, nil
	}
	d.Status = w.To
	d.StatusVersion++
	switch {
	case w.ClearReceiver:
		d.ReceiverID = nil
	case w.ReceiverID != nil:
		d.ReceiverID = w.ReceiverID
	}
	if w.DriverID != nil {
		d.DriverID = w.DriverID
	}
	if w.ActualPickupTime != nil {
		d.ActualPickupTime = w.ActualPickupTime
	}
	if w.ActualDeliveryTime != nil {
		d.ActualDeliveryTime = w.ActualDeliveryTime
	}
	if w.Proof != nil {
		p := *w.Proof
		d.DeliveryProof = &p
	}
	if w.CancelledAt != nil {
		d.CancelledAt = w.CancelledAt
	}
	if w.CancelReason != nil {
		d.CancelReason = w.CancelReason
	}
	d.UpdatedAt = w.At
	t.st.donations[w.ID] = d
	return true, nil
}

func (t *tx) AppendEvent(_ context.Context, e *donation.Event) error {
	t.st.nextEventID++
	e.ID = t.st.nextEventID
	t.st.events = append(t.st.events, *e)
	return nil
}

func (t *tx) CountActive(_ context.Context, driverID, excluding types.ID) (int, error) {
	return t.st.countActive(driverID, excluding), nil
}

func (t *tx) GetDriver(_ context.Context, id types.ID) (*driver.Driver, error) {
	return t.st.getDriver(id)
}

func (t *tx) SetOccupancy(_ context.Context, id types.ID, to driver.Occupancy) error {
	d, ok := t.st.drivers[id]
	if !ok || d.Role != types.RoleDriver {
		return apperr.NotFound("driver %s not found", id)
	}
	d.Occupancy = to
	t.st.drivers[id] = d
	return nil
}

func (t *tx) ClaimDriver(_ context.Context, id types.ID) (bool, error) {
	d, ok := t.st.drivers[id]
	if !ok || d.Role != types.RoleDriver || !d.Active || d.Occupancy != driver.OccupancyAvailable {
		return false, nil
	}
	d.Occupancy = driver.OccupancyBusy
	t.st.drivers[id] = d
	return true, nil
}
