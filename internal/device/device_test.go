package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUUIDStableForSameURI(t *testing.T) {
	require.Equal(t, UUID("local:rtlsdr:0"), UUID("local:rtlsdr:0"))
	require.NotEqual(t, UUID("local:rtlsdr:0"), UUID("local:rtlsdr:1"))
}

type fakeDiscovery struct {
	name    string
	devices []Device
}

func (f *fakeDiscovery) Name() string             { return f.name }
func (f *fakeDiscovery) Scan() ([]Device, error)  { return f.devices, nil }
func (f *fakeDiscovery) Interval() time.Duration  { return 10 * time.Millisecond }

func TestMergeInsertsAndUpdatesInPlace(t *testing.T) {
	f := New()
	defer f.Close()

	uuid := UUID("local:rtlsdr:0")
	d := &fakeDiscovery{name: "local", devices: []Device{{UUID: uuid, URI: "local:rtlsdr:0", Props: Properties{"rate": "1"}}}}
	f.Register(d)

	name := f.Wait(time.Second)
	require.Equal(t, "local", name)

	got, ok := f.Get(uuid)
	require.True(t, ok)
	require.Equal(t, "1", got.Props["rate"])

	d.devices = []Device{{UUID: uuid, URI: "local:rtlsdr:0", Props: Properties{"rate": "2"}}}
	name = f.Wait(time.Second)
	require.Equal(t, "local", name)

	got, ok = f.Get(uuid)
	require.True(t, ok)
	require.Equal(t, "2", got.Props["rate"])
}

func TestWaitTimesOutWithNoActivity(t *testing.T) {
	f := New()
	defer f.Close()
	require.Equal(t, "", f.Wait(20*time.Millisecond))
}

// TestCurrentExcludesDeviceDroppedFromLatestScan checks the facade's
// staleness invariant: a device not re-reported by its discovery's most
// recent scan is excluded from Current(), even though Get can still find it.
func TestCurrentExcludesDeviceDroppedFromLatestScan(t *testing.T) {
	f := New()
	defer f.Close()

	stay := UUID("local:rtlsdr:0")
	gone := UUID("local:rtlsdr:1")
	d := &fakeDiscovery{name: "local", devices: []Device{
		{UUID: stay, URI: "local:rtlsdr:0"},
		{UUID: gone, URI: "local:rtlsdr:1"},
	}}
	f.Register(d)

	require.Equal(t, "local", f.Wait(time.Second))
	require.Len(t, f.Current(), 2)

	// Second scan only re-reports "stay"; "gone" falls behind the discovery's
	// epoch and must drop out of Current(), while Get can still find it.
	d.devices = []Device{{UUID: stay, URI: "local:rtlsdr:0"}}
	require.Equal(t, "local", f.Wait(time.Second))

	current := f.Current()
	require.Len(t, current, 1)
	require.Equal(t, stay, current[0].UUID)

	_, ok := f.Get(gone)
	require.True(t, ok, "Get is a raw lookup, unaffected by staleness filtering")
}
