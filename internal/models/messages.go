package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dongle-server/dongle-server/internal/dongle"
)

// NATS subjects shared by the bridge and its clients
const (
	SubjectDeviceEvents = "dongle.device.%s.%s"
	SubjectDeviceAll    = "dongle.device.>"
	SubjectBridgeStatus = "dongle.bridge.status"

	SubjectCmdDevices = "dongle.cmd.devices"
	SubjectCmdState   = "dongle.cmd.state"
	SubjectCmdSMS     = "dongle.cmd.sms"
	SubjectCmdUSSD    = "dongle.cmd.ussd"
	SubjectCmdExec    = "dongle.cmd.exec"
)

// Device event names used as the last subject token
const (
	EventAdded   = "added"
	EventRemoved = "removed"
	EventState   = "state"
	EventSMS     = "sms"
	EventUSSD    = "ussd"
)

// DongleEvent is published on NATS and forwarded to MQTT
type DongleEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	IMEI      string    `json:"imei,omitempty"`
	DongleID  string    `json:"dongleId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Device *dongle.Device    `json:"device,omitempty"`
	State  map[string]string `json:"state,omitempty"`
	Signal *dongle.Signal    `json:"signal,omitempty"`
	Attrs  map[string]string `json:"attributes,omitempty"`

	// Bridge status
	Connected *bool  `json:"connected,omitempty"`
	Banner    string `json:"banner,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewDongleEvent creates an event stamped with a new ID and the current time
func NewDongleEvent(t EventType, imei, dongleID string) *DongleEvent {
	return &DongleEvent{
		ID:        uuid.New(),
		Type:      t,
		IMEI:      imei,
		DongleID:  dongleID,
		Timestamp: time.Now().UTC(),
	}
}

// DevicesRequest asks the bridge for the current device list. Refresh runs
// a discovery poll first.
type DevicesRequest struct {
	Refresh bool `json:"refresh"`
}

// StateRequest asks the bridge for a device state dump
type StateRequest struct {
	IMEI    string `json:"imei" validate:"required"`
	Refresh bool   `json:"refresh"`
}

// SMSRequest asks the bridge to send an SMS
type SMSRequest struct {
	IMEI   string `json:"imei" validate:"required"`
	Number string `json:"number" validate:"required,phone,max=32"`
	Text   string `json:"text" validate:"required,oneline,max=640"`
}

// USSDRequest asks the bridge to send a USSD code
type USSDRequest struct {
	IMEI string `json:"imei" validate:"required"`
	Code string `json:"code" validate:"required,ussd,max=32"`
}

// ExecRequest asks the bridge to run a raw console command
type ExecRequest struct {
	Command string `json:"command" validate:"required,oneline"`
}

// BridgeReply is the response to every bridge request
type BridgeReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`

	Raw      string                `json:"raw,omitempty"`
	Output   []string              `json:"output,omitempty"`
	Devices  []dongle.Device       `json:"devices,omitempty"`
	State    *DongleState          `json:"state,omitempty"`
	Warnings []dongle.ParseWarning `json:"warnings,omitempty"`
}
