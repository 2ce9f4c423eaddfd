package discovery

import (
	"sort"
	"sync"

	"github.com/dongle-server/dongle-server/internal/dongle"
)

// Snapshot is the set of known devices keyed by IMEI.
type Snapshot map[string]dongle.Device

// NewSnapshot indexes devices by IMEI. Devices without a usable IMEI are left
// out; when an IMEI repeats, the last row wins.
func NewSnapshot(devices []dongle.Device) Snapshot {
	snap := make(Snapshot, len(devices))
	for _, d := range devices {
		if d.HasIMEI() {
			snap[d.IMEI] = d
		}
	}
	return snap
}

// IMEIs returns the snapshot keys in sorted order.
func (s Snapshot) IMEIs() []string {
	imeis := make([]string, 0, len(s))
	for imei := range s {
		imeis = append(imeis, imei)
	}
	sort.Strings(imeis)
	return imeis
}

// Devices returns the snapshot values sorted by IMEI.
func (s Snapshot) Devices() []dongle.Device {
	devices := make([]dongle.Device, 0, len(s))
	for _, imei := range s.IMEIs() {
		devices = append(devices, s[imei])
	}
	return devices
}

// Changes is the difference between two polls.
type Changes struct {
	Added   []dongle.Device `json:"added"`
	Removed []string        `json:"removed"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Diff compares the current poll against the previous snapshot. Added holds
// devices whose IMEI was not known before; Removed holds IMEIs that are no
// longer reported. Both are sorted by IMEI.
func Diff(previous Snapshot, current []dongle.Device) Changes {
	next := NewSnapshot(current)

	changes := Changes{}
	for _, imei := range next.IMEIs() {
		if _, ok := previous[imei]; !ok {
			changes.Added = append(changes.Added, next[imei])
		}
	}
	for _, imei := range previous.IMEIs() {
		if _, ok := next[imei]; !ok && dongle.ValidIMEI(imei) {
			changes.Removed = append(changes.Removed, imei)
		}
	}
	return changes
}

// SnapshotCell holds the latest snapshot for concurrent readers. The
// discovery poller is its only writer.
type SnapshotCell struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Load returns the current snapshot. The returned map must not be modified.
func (c *SnapshotCell) Load() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Store replaces the current snapshot.
func (c *SnapshotCell) Store(snap Snapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// Lookup returns the device with the given IMEI.
func (c *SnapshotCell) Lookup(imei string) (dongle.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.snap[imei]
	return d, ok
}
