package models

import (
	"time"

	"github.com/dongle-server/dongle-server/internal/dongle"
)

// Dongle is a GSM modem known to the system, keyed by IMEI
type Dongle struct {
	IMEI     string `json:"imei" db:"imei"`
	DongleID string `json:"dongleId" db:"dongle_id"`

	Group    string `json:"group" db:"group_name"`
	State    string `json:"state" db:"state"`
	RSSIRaw  string `json:"rssiRaw" db:"rssi_raw"`
	Mode     string `json:"mode" db:"mode"`
	Submode  string `json:"submode" db:"submode"`
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`
	Firmware string `json:"firmware" db:"firmware"`
	IMSI     string `json:"imsi" db:"imsi"`
	Number   string `json:"number" db:"number"`

	// Presence
	IsPresent   bool      `json:"isPresent" db:"is_present"`
	FirstSeenAt time.Time `json:"firstSeenAt" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"lastSeenAt" db:"last_seen_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`

	// Relations
	LastState *DongleState `json:"lastState,omitempty"`
}

// DongleFromDevice converts a parsed device row
func DongleFromDevice(d dongle.Device, seenAt time.Time) *Dongle {
	return &Dongle{
		IMEI:        d.IMEI,
		DongleID:    d.DongleID,
		Group:       d.Group,
		State:       d.State,
		RSSIRaw:     d.RSSIRaw,
		Mode:        d.Mode,
		Submode:     d.Submode,
		Provider:    d.Provider,
		Model:       d.Model,
		Firmware:    d.Firmware,
		IMSI:        d.IMSI,
		Number:      d.Number,
		IsPresent:   true,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
		UpdatedAt:   seenAt,
	}
}

// DongleState is the last state dump read from a dongle
type DongleState struct {
	IMEI     string    `json:"imei" db:"imei"`
	DongleID string    `json:"dongleId" db:"dongle_id"`
	Values   StringMap `json:"values" db:"state_values"`

	SignalDBm     *int   `json:"signalDbm,omitempty" db:"signal_dbm"`
	SignalUnit    string `json:"signalUnit" db:"signal_unit"`
	SignalQuality string `json:"signalQuality" db:"signal_quality"`

	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DongleStateFromDump converts a parsed state dump
func DongleStateFromDump(imei, dongleID string, state dongle.State, at time.Time) *DongleState {
	sig := state.Signal()
	ds := &DongleState{
		IMEI:          imei,
		DongleID:      dongleID,
		Values:        StringMap(state),
		SignalUnit:    sig.Unit,
		SignalQuality: dongle.Quality(sig),
		UpdatedAt:     at,
	}
	if sig.Valid {
		v := sig.Value
		ds.SignalDBm = &v
	}
	return ds
}
