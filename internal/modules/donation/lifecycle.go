// README: Donation state machine: transition table with one capability check per edge.
package donation

import (
	"foodbridge/internal/apperr"
	"foodbridge/internal/types"
)

// Capability decides whether actor may take donation d along one edge.
type Capability func(actor types.Actor, d *Donation) bool

type edge struct {
	from, to Status
}

// transitions is the donation state flow (diagram) as code. An edge that is
// absent is an invalid transition.
var transitions = map[edge]Capability{
	{StatusAvailable, StatusReserved}:  anyReceiver,
	{StatusReserved, StatusAssigned}:   donorOrReservingReceiver,
	{StatusAssigned, StatusPickedUp}:   assignedDriver,
	{StatusPickedUp, StatusDelivered}:  assignedDriver,
	{StatusAvailable, StatusCancelled}: participant,
	{StatusReserved, StatusCancelled}:  participant,
	{StatusAssigned, StatusCancelled}:  participant,
	{StatusPickedUp, StatusCancelled}:  participant,
}

func CanTransition(from, to Status) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Authorize checks the edge d.Status -> to for actor.
func Authorize(actor types.Actor, d *Donation, to Status) error {
	if IsTerminal(d.Status) {
		return apperr.InvalidState("donation %s is %s", d.ID, d.Status)
	}
	can, ok := transitions[edge{d.Status, to}]
	if !ok {
		return apperr.InvalidTransition("donation %s cannot move from %s to %s", d.ID, d.Status, to)
	}
	if !can(actor, d) {
		return apperr.Forbidden("%s %s may not move donation %s to %s", actor.Role, actor.ID, d.ID, to)
	}
	return nil
}

func anyReceiver(a types.Actor, _ *Donation) bool {
	return a.Is(types.RoleReceiver)
}

func isDonor(a types.Actor, d *Donation) bool {
	return a.Is(types.RoleDonor) && a.ID == d.DonorID
}

func isReceiver(a types.Actor, d *Donation) bool {
	return a.Is(types.RoleReceiver) && d.ReceiverID != nil && *d.ReceiverID == a.ID
}

func assignedDriver(a types.Actor, d *Donation) bool {
	return a.Is(types.RoleDriver) && d.DriverID != nil && *d.DriverID == a.ID
}

func donorOrReservingReceiver(a types.Actor, d *Donation) bool {
	return isDonor(a, d) || isReceiver(a, d)
}

// participant also admits admins so stuck donations can be cancelled.
func participant(a types.Actor, d *Donation) bool {
	return a.Is(types.RoleAdmin) || isDonor(a, d) || isReceiver(a, d) || assignedDriver(a, d)
}
