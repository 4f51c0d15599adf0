// Package device implements the device facade: a single merged view over
// every device reported by any registered discovery worker, keyed by a
// stable UUID computed from the device's canonical URI.
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/twmb/murmur3"
)

// uuidSeed is fixed so that UUIDs computed here are stable across restarts
// for the same canonical URI.
const uuidSeed uint64 = 0x5005cafacade

// UUID computes the stable identifier for a canonical device URI.
func UUID(canonicalURI string) uint64 {
	h := murmur3.New64WithSeed(uuidSeed)
	h.Write([]byte(canonicalURI))
	return h.Sum64()
}

// Properties is the set of attributes a discovery worker reports for one
// device. Analyzer-specific fields (tuner type, sample rate range, antenna
// list) live here rather than as named struct fields, since this core's
// scope ends at mirroring whatever the discovery kind reports.
type Properties map[string]string

// Device is one entry in the facade's merged list.
type Device struct {
	UUID  uint64
	URI   string
	Props Properties
	Epoch uint64

	// Discovery is a non-owning back-reference to the name of the discovery
	// that produced this device, used only to look up that discovery's
	// current epoch when deciding whether this entry is still current.
	Discovery string
}

// Discovery is one registered device source (e.g. local SDR enumeration,
// multicast announcement listening). Each owns one worker goroutine.
type Discovery interface {
	Name() string
	// Scan runs one scan cycle and returns every device currently visible.
	Scan() ([]Device, error)
	// Interval is the time between scan cycles.
	Interval() time.Duration
}

// Facade is a merged device list over every registered discovery. New
// returns an independent instance on every call; the package keeps no
// process-wide instance of its own.
type Facade struct {
	mu      sync.Mutex
	byUUID  map[uint64]*Device
	epoch   map[string]uint64 // per-discovery-kind scan generation
	waiters []chan string

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns an empty Facade with no discovery workers registered.
func New() *Facade {
	return &Facade{
		byUUID: make(map[uint64]*Device),
		epoch:  make(map[string]uint64),
		stop:   make(chan struct{}),
	}
}

// Register starts a worker goroutine for one discovery source, running scan
// cycles at d.Interval() until the facade is closed.
func (f *Facade) Register(d Discovery) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(d.Interval())
		defer ticker.Stop()

		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				// Scan produces the "next" list in one shot (unlike the staged,
				// device-at-a-time scan this was ported from, Go's Discovery.Scan
				// returns its whole snapshot synchronously, so there is no
				// intermediate state to guard with a separate mutex): an error
				// here is a discard, next is thrown away and current/epoch are
				// untouched; a nil error is an accept, merged into current and
				// the epoch advances. Because each discovery runs its own
				// goroutine and Scan is only ever called from here, a new scan
				// never starts while a previous one is still being accepted.
				devices, err := d.Scan()
				if err != nil {
					continue
				}
				f.merge(d.Name(), devices)
			}
		}
	}()
}

// merge is the accept step: it swaps discoveryName's staged devices in as
// current, bumping that discovery kind's epoch and waking any waiters. A
// device missing from this cycle keeps whatever epoch it was last reported
// at, which is how Current later tells it apart from one just re-seen.
func (f *Facade) merge(discoveryName string, devices []Device) {
	f.mu.Lock()
	f.epoch[discoveryName]++
	newEpoch := f.epoch[discoveryName]

	for _, d := range devices {
		d.Epoch = newEpoch
		d.Discovery = discoveryName
		if existing, ok := f.byUUID[d.UUID]; ok {
			// Swap properties in place so outstanding references to the
			// same *Device observe the update rather than going stale.
			existing.URI = d.URI
			existing.Props = d.Props
			existing.Epoch = newEpoch
			existing.Discovery = discoveryName
		} else {
			cp := d
			f.byUUID[d.UUID] = &cp
		}
	}

	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, w := range waiters {
		select {
		case w <- discoveryName:
		default:
		}
		close(w)
	}
}

// Current returns every device whose epoch matches the latest accepted scan
// of its own discovery kind (device.epoch+1 == discovery.epoch filters out
// devices not re-seen in the most recent cycle — here expressed directly as
// device.Epoch == the discovery's current epoch, since this Epoch is stamped
// with the epoch it was last seen at rather than a separately tracked
// "current" counter). A device whose discovery has since scanned again
// without re-reporting it falls behind the discovery's current epoch and is
// excluded, even though it is never removed from the registry outright.
func (f *Facade) Current() []Device {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Device, 0, len(f.byUUID))
	for _, d := range f.byUUID {
		if d.Epoch != f.epoch[d.Discovery] {
			continue
		}
		out = append(out, *d)
	}
	return out
}

// Get looks up one device by UUID.
func (f *Facade) Get(uuid uint64) (Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byUUID[uuid]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Wait blocks until any discovery worker finishes a merge, or timeout
// elapses, returning the discovery's name or "" on timeout.
func (f *Facade) Wait(timeout time.Duration) string {
	ch := make(chan string, 1)
	f.mu.Lock()
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case name := <-ch:
		return name
	case <-time.After(timeout):
		return ""
	}
}

// Close stops every discovery worker and waits for them to exit.
func (f *Facade) Close() {
	close(f.stop)
	f.wg.Wait()
}

// CanonicalURI builds the canonical URI used as UUID input from a discovery
// kind and a driver-specific device path, e.g. "local:rtlsdr:0" or
// "multicast:239.1.2.3:5004".
func CanonicalURI(kind, path string) string {
	return fmt.Sprintf("%s:%s", kind, path)
}
