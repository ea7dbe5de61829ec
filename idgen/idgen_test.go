package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_UniqueAndSortable(t *testing.T) {
	gen := UUIDv7()
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 100; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
		// UUIDv7 is time-ordered; within one run IDs must be non-decreasing.
		if prev != "" && id < prev {
			t.Fatalf("IDs not sortable: %s < %s", id, prev)
		}
		prev = id
	}
}

func TestNanoID_LengthAndAlphabet(t *testing.T) {
	gen := NanoID(8)
	for i := 0; i < 50; i++ {
		id := gen()
		if len(id) != 8 {
			t.Fatalf("length = %d, want 8", len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
				t.Fatalf("unexpected character %q in %s", r, id)
			}
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("scan_", Default)
	id := gen()
	if !strings.HasPrefix(id, "scan_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if len(id) <= len("scan_") {
		t.Fatalf("no ID after prefix: %s", id)
	}
}
