package donation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodbridge/internal/apperr"
	"foodbridge/internal/config"
	"foodbridge/internal/modules/donation"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/modules/matching"
	"foodbridge/internal/modules/memstore"
	"foodbridge/internal/types"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingPublisher struct {
	mu     sync.Mutex
	events []donation.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e donation.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []donation.Assignment
}

func (n *recordingNotifier) NotifyAssigned(_ context.Context, a donation.Assignment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
	return nil
}

type memCache struct {
	mu          sync.Mutex
	rankings    map[types.ID]*matching.Ranking
	invalidated []types.ID
	assigned    map[types.ID][]types.ID
}

func newMemCache() *memCache {
	return &memCache{rankings: map[types.ID]*matching.Ranking{}, assigned: map[types.ID][]types.ID{}}
}

func (c *memCache) GetRanking(_ context.Context, id types.ID) (*matching.Ranking, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rankings[id]
	return r, ok, nil
}

func (c *memCache) PutRanking(_ context.Context, r *matching.Ranking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rankings[r.DonationID] = r
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rankings, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func (c *memCache) RecordAssignment(_ context.Context, id types.ID, _ time.Time, ranked []types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned[id] = ranked
	return nil
}

type fixture struct {
	store     *memstore.Store
	svc       *donation.Service
	publisher *recordingPublisher
	notifier  *recordingNotifier
	cache     *memCache
}

var (
	donor    = types.Actor{ID: "donor-1", Role: types.RoleDonor}
	receiver = types.Actor{ID: "rec-1", Role: types.RoleReceiver}
)

func driverActor(id types.ID) types.Actor {
	return types.Actor{ID: id, Role: types.RoleDriver}
}

// kmEast is a point d km east of (0,0) on the equator.
func kmEast(d float64) *types.Point {
	return &types.Point{Lat: 0, Lng: d / 111.19492664455873}
}

func addDriver(t *testing.T, s *memstore.Store, id types.ID, class types.VehicleClass, rep float64, pos *types.Point) {
	t.Helper()
	require.NoError(t, s.Drivers().Upsert(context.Background(), &driver.Driver{
		ID:           id,
		Name:         string(id),
		Role:         types.RoleDriver,
		Active:       true,
		VehicleClass: class,
		Occupancy:    driver.OccupancyAvailable,
		Reputation:   rep,
		Position:     pos,
		DeviceToken:  "token-" + string(id),
	}))
}

func newFixture(t *testing.T, repo donation.Repository, store *memstore.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:     store,
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		cache:     newMemCache(),
	}
	svc, err := donation.NewService(repo, store.Drivers(), config.MatchingConfig{},
		donation.WithClock(fixedClock{t0}),
		donation.WithPublisher(f.publisher),
		donation.WithNotifier(f.notifier),
		donation.WithRankingCache(f.cache),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func setup(t *testing.T) *fixture {
	store := memstore.New()
	addDriver(t, store, "A", types.VehicleMedium, 90, kmEast(5))
	addDriver(t, store, "B", types.VehicleLarge, 100, kmEast(20))
	return newFixture(t, store, store)
}

func createCmd(kg float64) donation.CreateCommand {
	return donation.CreateCommand{
		Items:               []types.FoodItem{{Name: "rice", Quantity: kg, Unit: types.UnitKg}},
		Pickup:              donation.Address{Street: "1 Harbour Rd", City: "Equator", Point: &types.Point{}},
		PreferredPickupTime: t0.Add(2 * time.Hour),
	}
}

func (f *fixture) reserved(t *testing.T, kg float64) *donation.Donation {
	t.Helper()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, donor, createCmd(kg))
	require.NoError(t, err)
	d, err = f.svc.Reserve(ctx, receiver, d.ID)
	require.NoError(t, err)
	return d
}

func (f *fixture) occupancy(t *testing.T, id types.ID) driver.Occupancy {
	t.Helper()
	d, err := f.store.Drivers().Get(context.Background(), id)
	require.NoError(t, err)
	return d.Occupancy
}

func TestDonationFlowHappyPath(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	d, err := f.svc.Create(ctx, donor, createCmd(90))
	require.NoError(t, err)
	assert.Equal(t, donation.StatusAvailable, d.Status)
	assert.Nil(t, d.ReceiverID)

	d, err = f.svc.Reserve(ctx, receiver, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusReserved, d.Status)
	require.NotNil(t, d.ReceiverID)
	assert.Equal(t, receiver.ID, *d.ReceiverID)

	r, err := f.svc.ListEligibleDrivers(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, r.Candidates, 2)
	assert.Equal(t, types.ID("A"), r.Candidates[0].DriverID)
	assert.Equal(t, types.ID("B"), r.Candidates[1].DriverID)

	d, err = f.svc.AssignDriver(ctx, donor, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusAssigned, d.Status)
	require.NotNil(t, d.DriverID)
	assert.Equal(t, types.ID("A"), *d.DriverID)
	assert.Equal(t, driver.OccupancyBusy, f.occupancy(t, "A"))

	d, err = f.svc.UpdateStatus(ctx, driverActor("A"), d.ID, donation.StatusCommand{Status: donation.StatusPickedUp})
	require.NoError(t, err)
	assert.Equal(t, donation.StatusPickedUp, d.Status)
	require.NotNil(t, d.ActualPickupTime)
	assert.Equal(t, t0, *d.ActualPickupTime)

	d, err = f.svc.UploadDeliveryProof(ctx, driverActor("A"), d.ID, "https://cdn.example.org/proof/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, donation.StatusDelivered, d.Status)
	require.NotNil(t, d.DeliveryProof)
	assert.Equal(t, "https://cdn.example.org/proof/1.jpg", d.DeliveryProof.URL)
	require.NotNil(t, d.ActualDeliveryTime)
	assert.Equal(t, driver.OccupancyAvailable, f.occupancy(t, "A"))
	assert.Equal(t, 4, d.StatusVersion)

	events, err := f.svc.ListEvents(ctx, d.ID)
	require.NoError(t, err)
	var path []donation.Status
	for _, e := range events {
		path = append(path, e.ToStatus)
	}
	assert.Equal(t, []donation.Status{
		donation.StatusAvailable, donation.StatusReserved, donation.StatusAssigned,
		donation.StatusPickedUp, donation.StatusDelivered,
	}, path)
	assert.Len(t, f.publisher.events, 5)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "token-A", f.notifier.sent[0].DeviceToken)
	assert.InDelta(t, 90, f.notifier.sent[0].DemandKg, 1e-9)
	assert.Equal(t, []types.ID{"A", "B"}, f.cache.assigned[d.ID])
}

func TestUpdateStatus_SkippingStatesIsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d, err := f.svc.Create(ctx, donor, createCmd(10))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, driverActor("A"), d.ID, donation.StatusCommand{Status: donation.StatusPickedUp})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, donor, d.ID, donation.StatusCommand{Status: donation.StatusAssigned})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, donor, d.ID, donation.StatusCommand{Status: donation.StatusAvailable})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, donor, d.ID, donation.StatusCommand{Status: "lost"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusAvailable, got.Status)
}

func TestUpdateStatus_BackToAvailableIsRejected(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d := f.reserved(t, 10)

	out, err := f.svc.UpdateStatus(ctx, receiver, d.ID, donation.StatusCommand{Status: donation.StatusAvailable})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.NotErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.UpdateStatus(ctx, receiver, d.ID, donation.StatusCommand{Status: donation.StatusCancelled, Reason: "spoiled"})
	require.NoError(t, err)
	out, err = f.svc.UpdateStatus(ctx, donor, d.ID, donation.StatusCommand{Status: donation.StatusAvailable})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.UpdateStatus(ctx, donor, "missing", donation.StatusCommand{Status: donation.StatusAvailable})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateStatus_UnknownStatusIsBadRequest(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d, err := f.svc.Create(ctx, donor, createCmd(10))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, donor, d.ID, donation.StatusCommand{Status: "lost"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusAvailable, got.Status)
}

func TestReserve_NotAvailableIsInvalidState(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d := f.reserved(t, 10)

	_, err := f.svc.Reserve(ctx, types.Actor{ID: "rec-2", Role: types.RoleReceiver}, d.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.Reserve(ctx, receiver, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestForbiddenActors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.Create(ctx, receiver, createCmd(10))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	d, err := f.svc.Create(ctx, donor, createCmd(10))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, donor, d.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	d = f.reserved(t, 10)
	_, err = f.svc.AssignDriver(ctx, types.Actor{ID: "rec-9", Role: types.RoleReceiver}, d.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	d, err = f.svc.AssignDriver(ctx, receiver, d.ID, nil)
	require.NoError(t, err)
	other := types.ID("B")
	if *d.DriverID == "B" {
		other = "A"
	}
	_, err = f.svc.UpdateStatus(ctx, driverActor(other), d.ID, donation.StatusCommand{Status: donation.StatusPickedUp})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []struct {
		name   string
		mutate func(*donation.CreateCommand)
	}{
		{"no items", func(c *donation.CreateCommand) { c.Items = nil }},
		{"zero quantity", func(c *donation.CreateCommand) { c.Items[0].Quantity = 0 }},
		{"unknown unit", func(c *donation.CreateCommand) { c.Items[0].Unit = "crates" }},
		{"missing name", func(c *donation.CreateCommand) { c.Items[0].Name = " " }},
		{"no pickup time", func(c *donation.CreateCommand) { c.PreferredPickupTime = time.Time{} }},
		{"no street", func(c *donation.CreateCommand) { c.Pickup.Street = "" }},
		{"bad coordinates", func(c *donation.CreateCommand) { c.Pickup.Point = &types.Point{Lat: 91} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := createCmd(10)
			tt.mutate(&cmd)
			_, err := f.svc.Create(ctx, donor, cmd)
			assert.ErrorIs(t, err, apperr.ErrBadRequest)
		})
	}
}

type stubGeocoder struct {
	p   types.Point
	err error
}

func (g stubGeocoder) Geocode(context.Context, string) (types.Point, error) { return g.p, g.err }

func TestCreate_GeocodesMissingCoordinates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc, err := donation.NewService(store, store.Drivers(), config.MatchingConfig{},
		donation.WithGeocoder(stubGeocoder{p: types.Point{Lat: 1.5, Lng: 2.5}}))
	require.NoError(t, err)

	cmd := createCmd(10)
	cmd.Pickup.Point = nil
	d, err := svc.Create(ctx, donor, cmd)
	require.NoError(t, err)
	require.NotNil(t, d.Pickup.Point)
	assert.Equal(t, types.Point{Lat: 1.5, Lng: 2.5}, *d.Pickup.Point)

	failing, err := donation.NewService(store, store.Drivers(), config.MatchingConfig{},
		donation.WithGeocoder(stubGeocoder{err: errors.New("quota")}))
	require.NoError(t, err)
	d, err = failing.Create(ctx, donor, cmd)
	require.NoError(t, err)
	assert.Nil(t, d.Pickup.Point)

	_, err = failing.ListEligibleDrivers(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrMissingLocation)
}

func TestAssign_CapacityExceededLeavesReserved(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d := f.reserved(t, 400)

	r, err := f.svc.ListEligibleDrivers(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, r.Candidates)
	assert.True(t, r.CapacityExceeded)

	_, err = f.svc.AssignDriver(ctx, donor, d.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
	var capErr *matching.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.NotNil(t, capErr.Ranking)
	assert.Empty(t, capErr.Ranking.Candidates)
	assert.InDelta(t, 400, capErr.Ranking.DemandKg, 1e-9)
	assert.Equal(t, 2, capErr.Ranking.Considered)
	assert.Equal(t, d.ID, capErr.Ranking.DonationID)

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusReserved, got.Status)
	assert.Nil(t, got.DriverID)
	assert.Equal(t, driver.OccupancyAvailable, f.occupancy(t, "A"))
	assert.Equal(t, driver.OccupancyAvailable, f.occupancy(t, "B"))
}

func TestAssign_ManualDriver(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	d := f.reserved(t, 90)
	d, err := f.svc.AssignDriver(ctx, donor, d.ID, types.IDPtr("B"))
	require.NoError(t, err)
	assert.Equal(t, types.ID("B"), *d.DriverID)
	assert.Equal(t, driver.OccupancyBusy, f.occupancy(t, "B"))

	second := f.reserved(t, 90)
	_, err = f.svc.AssignDriver(ctx, donor, second.ID, types.IDPtr("B"))
	assert.ErrorIs(t, err, apperr.ErrDriverUnavailable)

	_, err = f.svc.UpdateStatus(ctx, donor, second.ID, donation.StatusCommand{
		Status: donation.StatusAssigned, DriverID: types.IDPtr("A"),
	})
	require.NoError(t, err)

	third := f.reserved(t, 10)
	_, err = f.svc.AssignDriver(ctx, donor, third.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
}

func TestAssign_ManualDriverWithoutPickupCoordinates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	reserveBare := func() *donation.Donation {
		cmd := createCmd(40)
		cmd.Pickup.Point = nil
		d, err := f.svc.Create(ctx, donor, cmd)
		require.NoError(t, err)
		require.Nil(t, d.Pickup.Point)
		d, err = f.svc.Reserve(ctx, receiver, d.ID)
		require.NoError(t, err)
		return d
	}

	manual := reserveBare()
	d, err := f.svc.AssignDriver(ctx, donor, manual.ID, types.IDPtr("A"))
	require.NoError(t, err)
	assert.Equal(t, donation.StatusAssigned, d.Status)
	assert.Equal(t, types.ID("A"), *d.DriverID)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "token-A", f.notifier.sent[0].DeviceToken)

	auto := reserveBare()
	_, err = f.svc.AssignDriver(ctx, donor, auto.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrMissingLocation)
	got, err := f.svc.Get(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusReserved, got.Status)
	assert.Equal(t, driver.OccupancyAvailable, f.occupancy(t, "B"))
}

func TestAssign_NotReservedIsInvalidState(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d, err := f.svc.Create(ctx, donor, createCmd(10))
	require.NoError(t, err)

	_, err = f.svc.AssignDriver(ctx, donor, d.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCancel_ActiveDonationReleasesDriver(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d := f.reserved(t, 90)

	d, err := f.svc.AssignDriver(ctx, receiver, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, driver.OccupancyBusy, f.occupancy(t, "A"))

	d, err = f.svc.Cancel(ctx, donor, d.ID, " donor changed plans ")
	require.NoError(t, err)
	assert.Equal(t, donation.StatusCancelled, d.Status)
	assert.Nil(t, d.ReceiverID)
	require.NotNil(t, d.DriverID)
	assert.Equal(t, types.ID("A"), *d.DriverID)
	require.NotNil(t, d.CancelReason)
	assert.Equal(t, "donor changed plans", *d.CancelReason)
	assert.Equal(t, driver.OccupancyAvailable, f.occupancy(t, "A"))

	_, err = f.svc.Cancel(ctx, donor, d.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCancel_PickedUpByDriver(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d := f.reserved(t, 90)
	d, err := f.svc.AssignDriver(ctx, donor, d.ID, nil)
	require.NoError(t, err)
	drv := driverActor(*d.DriverID)

	_, err = f.svc.UpdateStatus(ctx, drv, d.ID, donation.StatusCommand{Status: donation.StatusPickedUp})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, drv, d.ID, donation.StatusCommand{Status: donation.StatusCancelled, Reason: "spoiled"})
	require.NoError(t, err)
	assert.Equal(t, driver.OccupancyAvailable, f.occupancy(t, drv.ID))
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d, err := f.svc.Create(ctx, donor, createCmd(10))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, donor, d.ID, "")
	require.NoError(t, err)

	for _, st := range []donation.Status{
		donation.StatusAvailable, donation.StatusReserved, donation.StatusAssigned,
		donation.StatusPickedUp, donation.StatusDelivered, donation.StatusCancelled,
	} {
		_, err := f.svc.UpdateStatus(ctx, donor, d.ID, donation.StatusCommand{Status: st})
		assert.ErrorIs(t, err, apperr.ErrInvalidState, "to %s", st)
	}
}

func TestUploadDeliveryProof_Guards(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d := f.reserved(t, 90)
	d, err := f.svc.AssignDriver(ctx, donor, d.ID, nil)
	require.NoError(t, err)
	drv := driverActor(*d.DriverID)

	_, err = f.svc.UploadDeliveryProof(ctx, drv, d.ID, "https://cdn.example.org/p.jpg")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.UpdateStatus(ctx, drv, d.ID, donation.StatusCommand{Status: donation.StatusPickedUp})
	require.NoError(t, err)

	_, err = f.svc.UploadDeliveryProof(ctx, drv, d.ID, "")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	_, err = f.svc.UploadDeliveryProof(ctx, drv, d.ID, "not a url")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	_, err = f.svc.UploadDeliveryProof(ctx, driverActor("nobody"), d.ID, "https://cdn.example.org/p.jpg")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	future := t0.Add(time.Hour)
	_, err = f.svc.UpdateStatus(ctx, drv, d.ID, donation.StatusCommand{Status: donation.StatusDelivered, At: &future})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusPickedUp, got.Status)
	assert.Equal(t, driver.OccupancyBusy, f.occupancy(t, drv.ID))
}

func TestListEligibleDrivers_UsesCacheUntilTransition(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	d, err := f.svc.Create(ctx, donor, createCmd(90))
	require.NoError(t, err)

	first, err := f.svc.ListEligibleDrivers(ctx, d.ID)
	require.NoError(t, err)
	second, err := f.svc.ListEligibleDrivers(ctx, d.ID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = f.svc.Reserve(ctx, receiver, d.ID)
	require.NoError(t, err)
	assert.Contains(t, f.cache.invalidated, d.ID)

	third, err := f.svc.ListEligibleDrivers(ctx, d.ID)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestListEligibleDrivers_DropsDriverAssignedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	first := f.reserved(t, 90)
	second := f.reserved(t, 90)

	before, err := f.svc.ListEligibleDrivers(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, before.Candidates, 2)
	assert.Equal(t, types.ID("A"), before.Candidates[0].DriverID)

	d, err := f.svc.AssignDriver(ctx, donor, first.ID, nil)
	require.NoError(t, err)
	require.Equal(t, types.ID("A"), *d.DriverID)
	assert.NotContains(t, f.cache.invalidated, second.ID)

	after, err := f.svc.ListEligibleDrivers(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, after.Candidates, 1)
	assert.Equal(t, types.ID("B"), after.Candidates[0].DriverID)

	cached, ok, err := f.cache.GetRanking(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, after, cached)
}

// barrierRepo holds every caller after its live count until n callers have
// counted, so concurrent assignments all see the same driver as free.
type barrierRepo struct {
	*memstore.Store
	wg *sync.WaitGroup
}

func (b *barrierRepo) CountActive(ctx context.Context, driverID, excluding types.ID) (int, error) {
	n, err := b.Store.CountActive(ctx, driverID, excluding)
	b.wg.Done()
	b.wg.Wait()
	return n, err
}

func TestConcurrentAssignSoleDriver(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	addDriver(t, store, "solo", types.VehicleLarge, 80, kmEast(3))

	setupSvc := newFixture(t, store, store)
	first := setupSvc.reserved(t, 50)
	second := setupSvc.reserved(t, 50)

	var barrier sync.WaitGroup
	barrier.Add(2)
	f := newFixture(t, &barrierRepo{Store: store, wg: &barrier}, store)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []types.ID{first.ID, second.ID} {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.AssignDriver(ctx, donor, id, nil)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrConflict)
	}
	require.Equal(t, 1, success)

	assert.Equal(t, driver.OccupancyBusy, f.occupancy(t, "solo"))
	n, err := store.CountActive(ctx, "solo", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	statuses := map[donation.Status]int{}
	for _, id := range []types.ID{first.ID, second.ID} {
		d, err := store.Get(ctx, id)
		require.NoError(t, err)
		statuses[d.Status]++
	}
	assert.Equal(t, map[donation.Status]int{donation.StatusAssigned: 1, donation.StatusReserved: 1}, statuses)
}

func TestConcurrentAssignSameDonation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for i := 0; i < 8; i++ {
		addDriver(t, store, types.ID(fmt.Sprintf("d%d", i)), types.VehicleLarge, 80, kmEast(float64(i+1)))
	}
	f := newFixture(t, store, store)
	d := f.reserved(t, 20)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AssignDriver(ctx, donor, d.ID, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrConflict) && !errors.Is(err, apperr.ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, success)

	busy := 0
	for i := 0; i < 8; i++ {
		if f.occupancy(t, types.ID(fmt.Sprintf("d%d", i))) == driver.OccupancyBusy {
			busy++
		}
	}
	assert.Equal(t, 1, busy)
}
