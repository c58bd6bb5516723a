// README: Donation aggregate, status values and audit events.
package donation

import (
	"strings"
	"time"

	"foodbridge/internal/types"
)

type Status string

const (
	StatusNone      Status = ""
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusAssigned  Status = "assigned"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusAvailable, StatusReserved, StatusAssigned, StatusPickedUp, StatusDelivered, StatusCancelled:
		return st, true
	}
	return StatusNone, false
}

// IsActive reports whether a donation in s occupies its driver.
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusPickedUp
}

type Address struct {
	Street     string       `json:"street"`
	City       string       `json:"city"`
	State      string       `json:"state,omitempty"`
	PostalCode string       `json:"postal_code,omitempty"`
	Country    string       `json:"country,omitempty"`
	Point      *types.Point `json:"coordinates,omitempty"`
}

// Line formats the address for geocoding.
func (a Address) Line() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.State, a.PostalCode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Proof struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Donation struct {
	ID                  types.ID         `json:"id"`
	DonorID             types.ID         `json:"donor_id"`
	ReceiverID          *types.ID        `json:"receiver_id,omitempty"`
	DriverID            *types.ID        `json:"driver_id,omitempty"`
	Items               []types.FoodItem `json:"items"`
	Pickup              Address          `json:"pickup"`
	Notes               string           `json:"notes,omitempty"`
	Status              Status           `json:"status"`
	StatusVersion       int              `json:"status_version"`
	PreferredPickupTime time.Time        `json:"preferred_pickup_time"`
	ActualPickupTime    *time.Time       `json:"actual_pickup_time,omitempty"`
	ActualDeliveryTime  *time.Time       `json:"actual_delivery_time,omitempty"`
	DeliveryProof       *Proof           `json:"delivery_proof,omitempty"`
	CancelledAt         *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason        *string          `json:"cancel_reason,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Event is one row of the append-only transition log.
type Event struct {
	ID         int64      `json:"id"`
	DonationID types.ID   `json:"donation_id"`
	FromStatus Status     `json:"from_status"`
	ToStatus   Status     `json:"to_status"`
	ActorRole  types.Role `json:"actor_role"`
	ActorID    *types.ID  `json:"actor_id,omitempty"`
	DriverID   *types.ID  `json:"driver_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
