package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/models"
)

type memEvents struct {
	entries []*models.EventLog
}

func (m *memEvents) CreateEventLog(_ context.Context, e *models.EventLog) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestEventLogFromEvent(t *testing.T) {
	added := models.NewDongleEvent(models.EventTypeDongleAdded, "351234567890123", "dongle0")
	added.Device = &dongle.Device{DongleID: "dongle0", Provider: "MTS", Model: "E1550", Number: "Unknown"}

	entry := EventLogFromEvent(added)
	require.NotNil(t, entry)
	assert.Equal(t, added.ID, entry.ID)
	assert.Equal(t, models.EventLevelInfo, entry.Level)
	assert.Equal(t, "Dongle dongle0 discovered - MTS E1550", entry.Description)
	assert.Equal(t, "MTS", entry.Details["provider"])

	failed := models.NewDongleEvent(models.EventTypeSMSFailed, "351234567890123", "dongle0")
	failed.Message = "command rejected by manager"
	failed.Attrs = map[string]string{"number": "100"}
	entry = EventLogFromEvent(failed)
	assert.Equal(t, models.EventLevelError, entry.Level)
	assert.Equal(t, "100", entry.Details["number"])
	assert.Equal(t, "command rejected by manager", entry.Details["message"])

	down := false
	status := models.NewDongleEvent(models.EventTypeAMIDisconnected, "", "")
	status.Connected = &down
	assert.Equal(t, models.EventLevelWarning, EventLogFromEvent(status).Level)

	assert.Nil(t, EventLogFromEvent(models.NewDongleEvent(models.EventTypeDongleState, "1", "dongle0")))
}

func TestHandleEvent(t *testing.T) {
	store := &memEvents{}
	s := NewNATSSubscriber(nil, store)

	ev := models.NewDongleEvent(models.EventTypeDongleRemoved, "351234567890123", "")
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	s.handleEvent(&nats.Msg{Subject: "dongle.device.351234567890123.removed", Data: data})
	s.handleEvent(&nats.Msg{Subject: "dongle.device.x.removed", Data: []byte("{bad")})

	require.Len(t, store.entries, 1)
	assert.Equal(t, models.EventTypeDongleRemoved, store.entries[0].Type)
	assert.Equal(t, "351234567890123", store.entries[0].IMEI)
}
