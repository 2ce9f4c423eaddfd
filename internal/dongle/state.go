package dongle

import (
	"strings"
)

// Well-known keys of "dongle show device state" after normalisation
const (
	KeyDevice           = "device"
	KeyState            = "state"
	KeyRSSI             = "rssi"
	KeyMode             = "mode"
	KeySubmode          = "submode"
	KeyProviderName     = "provider_name"
	KeyManufacturer     = "manufacturer"
	KeyModel            = "model"
	KeyFirmware         = "firmware"
	KeyIMEI             = "imei"
	KeyIMSI             = "imsi"
	KeySubscriberNumber = "subscriber_number"
	KeyGSMRegistration  = "gsm_registration_status"
	KeyLocationAreaCode = "location_area_code"
	KeyCellID           = "cell_id"
)

// State is the key/value dump of a single device. Keys are lower-cased with
// whitespace runs replaced by underscores.
type State map[string]string

// ParseDeviceState extracts "Key : Value" pairs from a "dongle show device
// state" response. Lines without a colon are ignored; the last occurrence of
// a duplicate key wins.
func ParseDeviceState(raw string) (State, []ParseWarning) {
	state := State{}
	warnings := walkOutput(raw, func(text string) string {
		k, v, ok := strings.Cut(text, ":")
		if !ok {
			return ""
		}
		key := NormalizeKey(k)
		if key == "" {
			return "empty key"
		}
		state[key] = strings.TrimSpace(v)
		return ""
	})
	return state, warnings
}

// NormalizeKey lower-cases k and joins its words with underscores.
func NormalizeKey(k string) string {
	return strings.Join(strings.Fields(strings.ToLower(k)), "_")
}

// Get returns the value for key, normalising the key first.
func (s State) Get(key string) string {
	return s[NormalizeKey(key)]
}

// Signal converts the rssi value of the dump.
func (s State) Signal() Signal {
	return ParseSignal(s[KeyRSSI])
}

// Attributes returns the subset of the dump exposed with signal readings.
func (s State) Attributes() map[string]string {
	sig := s.Signal()
	return map[string]string{
		"raw_rssi":       s[KeyRSSI],
		"provider":       s[KeyProviderName],
		"registration":   s[KeyGSMRegistration],
		"network_mode":   s[KeyMode],
		"submode":        s[KeySubmode],
		"lac":            s[KeyLocationAreaCode],
		"cell_id":        s[KeyCellID],
		"signal_quality": Quality(sig),
	}
}
