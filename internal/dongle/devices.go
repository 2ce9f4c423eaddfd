package dongle

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	minDeviceFields = 10
	unknownNumber   = "Unknown"
	noIMEI          = "N/A"
)

// Device is one row of "dongle show devices".
type Device struct {
	DongleID string `json:"dongle_id"`
	Group    string `json:"group"`
	State    string `json:"state"`
	RSSIRaw  string `json:"rssi_raw"`
	Mode     string `json:"mode"`
	Submode  string `json:"submode"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
	IMEI     string `json:"imei"`
	IMSI     string `json:"imsi"`
	Number   string `json:"number"`
}

// HasIMEI reports whether the device can be identified by its IMEI.
func (d Device) HasIMEI() bool {
	return ValidIMEI(d.IMEI)
}

// ValidIMEI reports whether imei is usable as a device key. Devices that
// have not initialised report "N/A".
func ValidIMEI(imei string) bool {
	imei = strings.TrimSpace(imei)
	return imei != "" && !strings.EqualFold(imei, noIMEI)
}

// ParseDeviceList extracts device rows from a "dongle show devices"
// response. Rows with fewer than ten fields are reported as warnings and
// skipped.
func ParseDeviceList(raw string) ([]Device, []ParseWarning) {
	devices := []Device{}
	warnings := walkOutput(raw, func(text string) string {
		fields := strings.Fields(text)
		if len(fields) < minDeviceFields {
			return fmt.Sprintf("expected at least %d fields, got %d", minDeviceFields, len(fields))
		}
		devices = append(devices, deviceFromFields(fields))
		return ""
	})
	return devices, warnings
}

func deviceFromFields(f []string) Device {
	d := Device{
		DongleID: f[0],
		Group:    f[1],
		State:    f[2],
		RSSIRaw:  f[3],
		Mode:     f[4],
		Submode:  f[5],
		Provider: f[6],
		Model:    f[7],
		Firmware: f[8],
		IMEI:     f[9],
		Number:   unknownNumber,
	}
	if len(f) > 10 {
		d.IMSI = f[10]
	}
	if len(f) > 11 {
		d.Number = f[11]
	}
	return d
}

// FormatDeviceList renders devices the way the console prints them, wrapped
// in a command response, so the result can be fed back to ParseDeviceList.
func FormatDeviceList(devices []Device) string {
	var table strings.Builder
	tw := tabwriter.NewWriter(&table, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "ID\tGroup\tState\tRSSI\tMode\tSubmode\tProvider Name\tModel\tFirmware\tIMEI\tIMSI\tNumber")
	for _, d := range devices {
		fields := []string{
			d.DongleID, d.Group, d.State, d.RSSIRaw, d.Mode, d.Submode,
			d.Provider, d.Model, d.Firmware, d.IMEI,
		}
		number := d.Number
		if number == "" {
			number = unknownNumber
		}
		switch {
		case d.IMSI != "":
			fields = append(fields, d.IMSI, number)
		case number != unknownNumber:
			// An empty IMSI column cannot be represented in a
			// whitespace-separated table.
			fields = append(fields, noIMEI, number)
		}
		fmt.Fprintln(tw, strings.Join(fields, "\t"))
	}
	_ = tw.Flush()

	var b strings.Builder
	b.WriteString("Response: Success\r\n")
	b.WriteString("Message: Command output follows\r\n")
	for _, line := range strings.Split(strings.TrimRight(table.String(), "\n"), "\n") {
		b.WriteString("Output: ")
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}
