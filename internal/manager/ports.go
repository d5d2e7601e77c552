package manager

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator leases local TCP ports from a closed range. Every
// candidate is probed with a transient bind before it is leased, which
// defends against ports held by processes the manager does not track
// (e.g. leftovers from a crash).
type PortAllocator struct {
	mu     sync.Mutex
	min    int
	max    int
	leased map[int]bool
}

// NewPortAllocator creates an allocator over the inclusive range [min, max].
func NewPortAllocator(min, max int) *PortAllocator {
	return &PortAllocator{
		min:    min,
		max:    max,
		leased: make(map[int]bool),
	}
}

// Allocate leases a free port. A non-zero preferred port is honored when
// it is inside the range, not already leased, and bindable; otherwise the
// range is scanned in ascending order.
func (a *PortAllocator) Allocate(preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if preferred != 0 && preferred >= a.min && preferred <= a.max &&
		!a.leased[preferred] && bindable(preferred) {
		a.leased[preferred] = true
		return preferred, nil
	}

	for port := a.min; port <= a.max; port++ {
		if a.leased[port] {
			continue
		}
		if !bindable(port) {
			continue
		}
		a.leased[port] = true
		return port, nil
	}

	return 0, &PortExhaustedError{Min: a.min, Max: a.max}
}

// Release returns a port to the free pool. Releasing an unleased port is
// a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	delete(a.leased, port)
	a.mu.Unlock()
}

// Leased reports whether the allocator currently holds a lease on port.
func (a *PortAllocator) Leased(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leased[port]
}

// bindable checks OS-level availability with a bind-and-close probe.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
