package manager

import "testing"

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	key := Key{Tool: "fetch", Version: "1.0.0"}

	if _, ok := r.Get(key); ok {
		t.Fatal("empty registry returned an entry")
	}

	p := &ManagedProcess{Key: key, Port: 10001}
	r.Put(key, p)

	got, ok := r.Get(key)
	if !ok {
		t.Fatal("entry not found after Put")
	}
	if got.Port != 10001 {
		t.Errorf("expected port 10001, got %d", got.Port)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Len())
	}

	r.Remove(key)
	if _, ok := r.Get(key); ok {
		t.Error("entry still present after Remove")
	}
}

func TestRegistrySnapshotIsolated(t *testing.T) {
	r := NewRegistry()
	keyA := Key{Tool: "a", Version: "1"}
	r.Put(keyA, &ManagedProcess{Key: keyA, Port: 10001})

	snap := r.Snapshot()

	// Mutations after the snapshot must not be visible in it.
	keyB := Key{Tool: "b", Version: "1"}
	r.Put(keyB, &ManagedProcess{Key: keyB, Port: 10002})
	r.Remove(keyA)

	if len(snap) != 1 {
		t.Fatalf("snapshot changed after registry mutation: %d entries", len(snap))
	}
	if _, ok := snap[keyA]; !ok {
		t.Error("snapshot lost its entry")
	}
}
