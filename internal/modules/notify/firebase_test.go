package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodbridge/internal/modules/donation"
)

func TestBuildMessage(t *testing.T) {
	a := donation.Assignment{
		DonationID:          "don-1",
		DriverID:            "drv-1",
		DeviceToken:         "tok",
		Pickup:              "1 Harbour Rd, Equator",
		PreferredPickupTime: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
		DemandKg:            90,
	}
	msg := buildMessage(a)

	assert.Equal(t, "tok", msg.Token)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, "90.0 kg at 1 Harbour Rd, Equator", msg.Notification.Body)
	assert.Equal(t, "don-1", msg.Data["donation_id"])
	assert.Equal(t, "donation_assigned", msg.Data["type"])
	assert.Equal(t, "2026-03-14T11:00:00Z", msg.Data["preferred_pickup_time"])
	require.NotNil(t, msg.Android)
	assert.Equal(t, "high", msg.Android.Priority)
	require.NotNil(t, msg.Android.TTL)
	assert.Equal(t, assignmentTTL, *msg.Android.TTL)
}

func TestNotifyAssigned_SkipsWithoutToken(t *testing.T) {
	// client is never touched when the token is empty
	n := &FirebaseNotifier{}
	assert.NoError(t, n.NotifyAssigned(context.Background(), donation.Assignment{DriverID: "drv-1"}))
}
