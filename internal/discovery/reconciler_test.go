package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dongle-server/dongle-server/internal/dongle"
)

func dev(imei string) dongle.Device {
	return dongle.Device{DongleID: "dongle-" + imei, IMEI: imei, Number: "Unknown"}
}

func TestDiffExamples(t *testing.T) {
	previous := NewSnapshot([]dongle.Device{dev("A"), dev("B")})

	changes := Diff(previous, []dongle.Device{dev("B"), dev("C")})
	assert.Equal(t, []dongle.Device{dev("C")}, changes.Added)
	assert.Equal(t, []string{"A"}, changes.Removed)

	changes = Diff(Snapshot{}, []dongle.Device{dev("A")})
	assert.Equal(t, []dongle.Device{dev("A")}, changes.Added)
	assert.Empty(t, changes.Removed)

	changes = Diff(previous, nil)
	assert.Empty(t, changes.Added)
	assert.ElementsMatch(t, []string{"A", "B"}, changes.Removed)
}

func TestDiffExcludesMissingIMEI(t *testing.T) {
	changes := Diff(nil, []dongle.Device{dev(""), dev("N/A"), dev("n/a"), dev("A")})
	assert.Equal(t, []dongle.Device{dev("A")}, changes.Added)
	assert.Empty(t, changes.Removed)
}

func TestDiffUnchanged(t *testing.T) {
	devices := []dongle.Device{dev("A"), dev("B")}
	changes := Diff(NewSnapshot(devices), devices)
	assert.True(t, changes.Empty())
}

func TestDiffProperties(t *testing.T) {
	imeiGen := rapid.SampledFrom([]string{"", "N/A", "1", "2", "3", "4", "5", "6"})
	rapid.Check(t, func(t *rapid.T) {
		prev := rapid.SliceOf(imeiGen).Draw(t, "previous")
		curr := rapid.SliceOf(imeiGen).Draw(t, "current")

		var prevDevices, currDevices []dongle.Device
		for _, imei := range prev {
			prevDevices = append(prevDevices, dev(imei))
		}
		for _, imei := range curr {
			currDevices = append(currDevices, dev(imei))
		}
		previous := NewSnapshot(prevDevices)
		current := NewSnapshot(currDevices)

		changes := Diff(previous, currDevices)
		for _, d := range changes.Added {
			require.True(t, d.HasIMEI())
			require.NotContains(t, previous, d.IMEI)
			require.Contains(t, current, d.IMEI)
		}
		for _, imei := range changes.Removed {
			require.Contains(t, previous, imei)
			require.NotContains(t, current, imei)
		}
		// previous - removed + added == current
		next := make(map[string]bool)
		for imei := range previous {
			next[imei] = true
		}
		for _, imei := range changes.Removed {
			delete(next, imei)
		}
		for _, d := range changes.Added {
			next[d.IMEI] = true
		}
		require.Len(t, next, len(current))
		for imei := range current {
			require.True(t, next[imei])
		}
	})
}

func TestSnapshotCell(t *testing.T) {
	var cell SnapshotCell
	assert.Empty(t, cell.Load())

	cell.Store(NewSnapshot([]dongle.Device{dev("B"), dev("A")}))
	d, ok := cell.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "dongle-A", d.DongleID)
	_, ok = cell.Lookup("Z")
	assert.False(t, ok)

	assert.Equal(t, []string{"A", "B"}, cell.Load().IMEIs())
	assert.Equal(t, []dongle.Device{dev("A"), dev("B")}, cell.Load().Devices())
}
