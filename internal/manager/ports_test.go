package manager

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestAllocatePreferred(t *testing.T) {
	a := NewPortAllocator(18100, 18110)

	port, err := a.Allocate(18105)
	if err != nil {
		t.Fatal(err)
	}
	if port != 18105 {
		t.Errorf("expected preferred port 18105, got %d", port)
	}
	if !a.Leased(18105) {
		t.Error("port should be leased")
	}
}

func TestAllocateScansAscending(t *testing.T) {
	a := NewPortAllocator(18120, 18125)

	p1, err := a.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Errorf("allocated the same port twice: %d", p1)
	}
	if p2 < p1 {
		t.Errorf("expected ascending scan, got %d then %d", p1, p2)
	}
}

func TestAllocatePreferredAlreadyLeased(t *testing.T) {
	a := NewPortAllocator(18130, 18135)

	p1, err := a.Allocate(18130)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Allocate(18130)
	if err != nil {
		t.Fatal(err)
	}
	if p2 == p1 {
		t.Errorf("leased port handed out twice: %d", p2)
	}
}

func TestAllocateSkipsBoundPort(t *testing.T) {
	a := NewPortAllocator(18140, 18142)

	// Occupy the first candidate outside the allocator's knowledge.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", 18140))
	if err != nil {
		t.Skipf("cannot bind test port: %v", err)
	}
	defer l.Close()

	port, err := a.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	if port == 18140 {
		t.Error("allocator handed out a port already bound by another process")
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := NewPortAllocator(18150, 18151)

	if _, err := a.Allocate(0); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(0); err != nil {
		t.Fatal(err)
	}

	_, err := a.Allocate(0)
	var exhausted *PortExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected PortExhaustedError, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	a := NewPortAllocator(18160, 18162)

	port, err := a.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}

	a.Release(port)
	a.Release(port)     // no-op
	a.Release(18161)    // never leased; still a no-op
	if a.Leased(port) {
		t.Error("released port still leased")
	}

	// Released port is allocatable again.
	again, err := a.Allocate(port)
	if err != nil {
		t.Fatal(err)
	}
	if again != port {
		t.Errorf("expected to re-lease %d, got %d", port, again)
	}
}
