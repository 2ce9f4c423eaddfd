package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	IMEI     string `json:"imei,omitempty" db:"imei"`
	DongleID string `json:"dongleId,omitempty" db:"dongle_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Dongle events
	EventTypeDongleAdded   EventType = "DONGLE_ADDED"
	EventTypeDongleRemoved EventType = "DONGLE_REMOVED"
	EventTypeDongleState   EventType = "DONGLE_STATE"

	// Messaging events
	EventTypeSMSSent    EventType = "SMS_SENT"
	EventTypeSMSFailed  EventType = "SMS_FAILED"
	EventTypeUSSDSent   EventType = "USSD_SENT"
	EventTypeUSSDFailed EventType = "USSD_FAILED"

	// Manager connection events
	EventTypeAMIConnected    EventType = "AMI_CONNECTED"
	EventTypeAMIDisconnected EventType = "AMI_DISCONNECTED"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
