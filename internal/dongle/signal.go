package dongle

import (
	"fmt"
	"regexp"
	"strconv"
)

// Signal units
const (
	UnitDBm   = "dBm"
	UnitLevel = "level"
)

// Signal quality buckets
const (
	QualityExcellent = "Excellent"
	QualityGood      = "Good"
	QualityFair      = "Fair"
	QualityPoor      = "Poor"
	QualityUnknown   = "Unknown"
)

// rssiUnknown is the CSQ value for "not known or not detectable".
const rssiUnknown = 99

var (
	dbmPattern = regexp.MustCompile(`(-?\d+)\s*dBm`)
	intPattern = regexp.MustCompile(`-?\d+`)
)

// Signal is a converted signal reading. Valid is false when the raw value
// carries no usable number.
type Signal struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
	Valid bool   `json:"valid"`
	Raw   string `json:"raw"`
}

func (s Signal) String() string {
	if !s.Valid {
		return "unknown"
	}
	return fmt.Sprintf("%d %s", s.Value, s.Unit)
}

// ParseSignal converts an rssi value as printed by chan_dongle.
//
// An explicit "<n> dBm" is taken as is. Otherwise the first integer is read
// as a CSQ value: 99 is unknown, 0..31 maps to 2n-113 dBm, larger values are
// passed through with unit "level" and negative values are taken as dBm.
func ParseSignal(raw string) Signal {
	sig := Signal{Raw: raw}

	if m := dbmPattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			sig.Value, sig.Unit, sig.Valid = v, UnitDBm, true
			return sig
		}
	}

	m := intPattern.FindString(raw)
	if m == "" {
		return sig
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return sig
	}

	switch {
	case n == rssiUnknown:
	case n < 0:
		sig.Value, sig.Unit, sig.Valid = n, UnitDBm, true
	case n <= 31:
		sig.Value, sig.Unit, sig.Valid = 2*n-113, UnitDBm, true
	default:
		sig.Value, sig.Unit, sig.Valid = n, UnitLevel, true
	}
	return sig
}

// Quality buckets a dBm reading. Readings in other units are Unknown.
func Quality(s Signal) string {
	if !s.Valid || s.Unit != UnitDBm {
		return QualityUnknown
	}
	switch {
	case s.Value >= -70:
		return QualityExcellent
	case s.Value >= -85:
		return QualityGood
	case s.Value >= -100:
		return QualityFair
	default:
		return QualityPoor
	}
}
