package permission

import (
	"errors"
	"sync"
)

// Mask64 is a 64-bit permission bitmask. The highest bit is reserved for the
// root grant when the owning [Registry] is built with root reservation.
type Mask64 uint64

// Has reports whether bit is set. With rootReserved, a mask carrying the root
// bit satisfies every check.
func (m Mask64) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	if rootReserved && (m&(1<<63)) != 0 {
		return true
	}
	return (m & (1 << bit)) != 0
}

// Set sets bit in the mask.
func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= 1 << bit
}

// Clear clears bit in the mask.
func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= 1 << bit
}

// Raw returns the mask as a plain uint64.
func (m Mask64) Raw() uint64 {
	return uint64(m)
}

// Registry maps action names to bit positions within a [Mask64].
// Registrations happen during construction; Freeze makes the registry
// immutable before it is shared across goroutines.
type Registry struct {
	rootReserved bool
	rootBit      int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an action [Registry]. With rootReserved, the highest
// bit is set aside for the unconditional admin grant and cannot be assigned
// to a named action.
func NewRegistry(rootReserved bool) *Registry {
	r := &Registry{
		rootReserved: rootReserved,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
	if rootReserved {
		r.rootBit = 63
	}
	return r
}

// Register assigns the next free bit to the named action and returns it.
// Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if name == "" {
		return -1, errors.New("action name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("action already registered: " + name)
	}

	nextBit := len(r.nameToBit)
	limit := 64
	if r.rootReserved {
		limit = r.rootBit
	}
	if nextBit >= limit {
		return -1, errors.New("action limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name
	return nextBit, nil
}

// Bit returns the bit index for the named action, or false if unregistered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the action name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// RootBit returns the reserved root bit, or false when root reservation is off.
func (r *Registry) RootBit() (int, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return r.rootBit, true
}

// RootReserved reports whether the registry reserves a root bit.
func (r *Registry) RootReserved() bool {
	return r.rootReserved
}
