// Package devicelock enforces exclusive access to a physical hub. A lease is
// taken before any link activity and never queues: a second caller gets
// DeviceBusy immediately.
//
// A hub can be named by its advertised name or by its address. The registry
// learns which names belong to which address and keys every lease by the
// address once it is known, so both spellings contend for the same lock.
package devicelock

import (
	"strings"
	"sync"
	"time"

	"github.com/llll-robotics/llll/internal/types"
)

type Registry struct {
	mu      sync.Mutex
	leases  map[string]*Lease
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		leases:  make(map[string]*Lease),
		aliases: make(map[string]string),
	}
}

// Lease is the right to use one device. Release is idempotent.
type Lease struct {
	registry *Registry
	device   string
	owner    string
	since    time.Time
	keys     []string
	released bool
}

// Holder describes who holds a device.
type Holder struct {
	Device string    `json:"device"`
	Owner  string    `json:"owner"`
	Since  time.Time `json:"since"`
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// key returns the canonical lock key for identifier. Caller holds mu.
func (r *Registry) key(identifier string) string {
	k := normalize(identifier)
	if canonical, ok := r.aliases[k]; ok {
		return canonical
	}
	return k
}

// Learn records that name and address denote the same hub. A lease already
// held under the name is extended to the address when nobody else holds it.
func (r *Registry) Learn(name, address string) {
	if address == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	addr := normalize(address)
	r.aliases[addr] = addr
	if name == "" {
		return
	}

	n := normalize(name)
	r.aliases[n] = addr

	byName, ok := r.leases[n]
	if !ok {
		return
	}
	if _, taken := r.leases[addr]; !taken {
		r.leases[addr] = byName
		byName.keys = append(byName.keys, addr)
	}
}

// Known reports whether identifier has been tied to an address.
func (r *Registry) Known(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.aliases[normalize(identifier)]
	return ok
}

func (r *Registry) busy(identifier string, held *Lease) error {
	busy := types.DeviceBusy(identifier)
	busy.Message += " (" + held.owner + ")"
	return busy
}

// TryAcquire takes the device for owner or fails with DeviceBusy.
func (r *Registry) TryAcquire(device, owner string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := r.key(device)
	if held, ok := r.leases[k]; ok {
		return nil, r.busy(device, held)
	}

	lease := &Lease{
		registry: r,
		device:   device,
		owner:    owner,
		since:    time.Now(),
		keys:     []string{k},
	}
	r.leases[k] = lease
	return lease, nil
}

// Claim extends the lease to identifier, typically the address the leased
// name resolved to. It fails with DeviceBusy when another lease holds it.
func (l *Lease) Claim(identifier string) error {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.released {
		return types.NewError(types.KindInternal, "lease already released", nil)
	}

	k := r.key(identifier)
	held, ok := r.leases[k]
	switch {
	case !ok:
		r.leases[k] = l
		l.keys = append(l.keys, k)
		return nil
	case held == l:
		return nil
	default:
		return r.busy(identifier, held)
	}
}

func (l *Lease) Device() string { return l.device }

func (l *Lease) Release() {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.released {
		return
	}
	l.released = true
	for _, k := range l.keys {
		if r.leases[k] == l {
			delete(r.leases, k)
		}
	}
}

// Held reports whether a device is currently leased.
func (r *Registry) Held(device string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.leases[r.key(device)]
	return ok
}

// Owner returns the owner of the lease on device.
func (r *Registry) Owner(device string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leases[r.key(device)]
	if !ok {
		return "", false
	}
	return l.owner, true
}

func (r *Registry) Holders() []Holder {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*Lease]bool, len(r.leases))
	out := make([]Holder, 0, len(r.leases))
	for _, l := range r.leases {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, Holder{Device: l.device, Owner: l.owner, Since: l.since})
	}
	return out
}
