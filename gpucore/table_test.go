package gpucore

import (
	"errors"
	"testing"
)

func TestTable(t *testing.T) {
	var tbl Table[string]

	a := tbl.Insert("a")
	bad := tbl.InsertInvalid()
	if a == InvalidID || bad == InvalidID || a == bad {
		t.Fatalf("ids a=%d bad=%d must be distinct and non-zero", a, bad)
	}

	if v, err := tbl.Get(a); err != nil || v != "a" {
		t.Errorf("Get(a) = (%q, %v), want (a, nil)", v, err)
	}
	if _, err := tbl.Get(bad); !errors.Is(err, ErrInvalidResource) {
		t.Errorf("Get(bad) error = %v, want ErrInvalidResource", err)
	}
	if _, err := tbl.Get(999); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Get(999) error = %v, want ErrUnknownResource", err)
	}

	if _, ok := tbl.Remove(bad); ok {
		t.Error("Remove(bad) ok = true, want false for error object")
	}
	if v, ok := tbl.Remove(a); !ok || v != "a" {
		t.Errorf("Remove(a) = (%q, %v)", v, ok)
	}
	if _, err := tbl.Get(a); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Get after Remove error = %v, want ErrUnknownResource", err)
	}

	// IDs are never reused.
	if c := tbl.Insert("c"); c <= bad {
		t.Errorf("new id %d reuses an old one", c)
	}
	if got := tbl.Drain(); len(got) != 1 || got[0] != "c" {
		t.Errorf("Drain() = %v, want [c]", got)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d after Drain", tbl.Len())
	}
}
