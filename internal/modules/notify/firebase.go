// README: Push notification to the assigned driver via Firebase Cloud Messaging.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"foodbridge/internal/log"
	"foodbridge/internal/modules/donation"
)

const assignmentTTL = 30 * time.Minute

type FirebaseNotifier struct {
	client *messaging.Client
}

func NewFirebaseNotifier(ctx context.Context, app *firebase.App) (*FirebaseNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &FirebaseNotifier{client: client}, nil
}

// NotifyAssigned sends the assignment to the driver's device. Drivers
// without a registered device token are skipped.
func (n *FirebaseNotifier) NotifyAssigned(ctx context.Context, a donation.Assignment) error {
	if a.DeviceToken == "" {
		log.Debug(ctx, "driver has no device token; skipping push", log.ID("driver_id", a.DriverID))
		return nil
	}
	id, err := n.client.Send(ctx, buildMessage(a))
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	log.Debug(ctx, "assignment push sent", log.ID("driver_id", a.DriverID), log.ID("message_id", id))
	return nil
}

func buildMessage(a donation.Assignment) *messaging.Message {
	ttl := assignmentTTL
	return &messaging.Message{
		Token: a.DeviceToken,
		Notification: &messaging.Notification{
			Title: "New pickup assigned",
			Body:  fmt.Sprintf("%.1f kg at %s", a.DemandKg, a.Pickup),
		},
		Data: map[string]string{
			"type":                  "donation_assigned",
			"donation_id":           string(a.DonationID),
			"preferred_pickup_time": a.PreferredPickupTime.UTC().Format(time.RFC3339),
			"demand_kg":             strconv.FormatFloat(a.DemandKg, 'f', 1, 64),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}
}
