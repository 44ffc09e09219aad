package homerelay

import (
	"errors"
	"testing"
)

func TestRegistryGetOrCreateInvokesFactoryOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (any, error) {
		calls++
		return "instance", nil
	}

	first, err := r.GetOrCreate("x", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	second, err := r.GetOrCreate("x", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	if calls != 1 {
		t.Errorf("Expected factory called once, got %d", calls)
	}
	if first != second {
		t.Error("Expected both calls to return the same instance")
	}
}

func TestRegistryDeleteThenRecreate(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (any, error) {
		calls++
		return calls, nil
	}

	if _, err := r.GetOrCreate("x", factory); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if !r.Delete("x") {
		t.Error("Expected Delete to report a live binding")
	}
	if r.Exists("x") {
		t.Error("Expected Exists=false after Delete")
	}

	v, err := r.GetOrCreate("x", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected factory invoked again after Delete, calls=%d", calls)
	}
	if v != 2 {
		t.Errorf("Expected fresh instance 2, got %v", v)
	}
}

func TestRegistryDeleteMissing(t *testing.T) {
	r := NewRegistry()
	if r.Delete("nope") {
		t.Error("Expected Delete=false for unknown name")
	}
}

func TestRegistryEmptyNameRejected(t *testing.T) {
	r := NewRegistry()

	if _, err := r.GetOrCreate("", func() (any, error) { return 1, nil }); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName, got %v", err)
	}
	if err := r.Replace("", 1); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName from Replace, got %v", err)
	}
}

func TestRegistryFactoryErrorRegistersNothing(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("no resources")

	_, err := r.GetOrCreate("x", func() (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Expected factory error to propagate, got %v", err)
	}
	if r.Exists("x") {
		t.Error("Expected no handle registered after factory failure")
	}

	// Next call tries the factory again.
	v, err := r.GetOrCreate("x", func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if v != "ok" {
		t.Errorf("Expected recovery after failed construction, got %v", v)
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetOrCreate("x", func() (any, error) { return "old", nil }); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	if err := r.Replace("x", "new"); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	v, err := r.GetOrCreate("x", func() (any, error) { return "unreachable", nil })
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if v != "new" {
		t.Errorf("Expected replaced instance, got %v", v)
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if _, err := r.GetOrCreate(name, func() (any, error) { return name, nil }); err != nil {
			t.Fatalf("GetOrCreate(%q) error: %v", name, err)
		}
	}

	names := r.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected names[%d]=%q, got %q", i, want[i], names[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Expected Len=3, got %d", r.Len())
	}
}
