// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"context"
	"errors"
	"testing"
)

// stubDevice satisfies Device for registry tests. Only Info is used.
type stubDevice struct {
	Device
	name string
}

func (d *stubDevice) Info() AdapterInfo { return AdapterInfo{Backend: d.name} }

func stubFactory(name string) DeviceFactory {
	return func(context.Context, AdapterOptions) (Device, error) {
		return &stubDevice{name: name}, nil
	}
}

// TestRegistryRegister tests backend registration.
func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	r.Register("test", 50, stubFactory("test"), nil)

	entry, ok := r.Get("test")
	if !ok {
		t.Fatal("registered backend not found")
	}
	if entry.Name != "test" {
		t.Errorf("Name = %s, want test", entry.Name)
	}
	if entry.Priority != 50 {
		t.Errorf("Priority = %d, want 50", entry.Priority)
	}
	if !entry.Available() {
		t.Error("backend should be available (nil Available func)")
	}
}

// TestRegistryUnregister tests backend removal.
func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("temp", 10, stubFactory("temp"), nil)
	r.Unregister("temp")

	if _, ok := r.Get("temp"); ok {
		t.Error("backend should not exist after unregister")
	}
}

// TestRegistryList tests listing backends.
func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("low", 10, stubFactory("low"), nil)
	r.Register("high", 100, stubFactory("high"), nil)
	r.Register("off", 50, stubFactory("off"), func() bool { return false })

	list := r.List()
	want := []string{"high", "off", "low"}
	if len(list) != len(want) {
		t.Fatalf("List() = %v, want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, list[i], want[i])
		}
	}

	avail := r.Available()
	if len(avail) != 2 || avail[0] != "high" || avail[1] != "low" {
		t.Errorf("Available() = %v, want [high low]", avail)
	}
}

// TestRegistryRequestDevice tests priority selection and fallback.
func TestRegistryRequestDevice(t *testing.T) {
	r := NewRegistry()
	r.Register("cpu", 10, stubFactory("cpu"), nil)
	r.Register("gpu", 100, func(context.Context, AdapterOptions) (Device, error) {
		return nil, errors.New("no adapter")
	}, nil)

	dev, err := r.RequestDevice(context.Background(), AdapterOptions{})
	if err != nil {
		t.Fatalf("RequestDevice() error = %v", err)
	}
	if got := dev.Info().Backend; got != "cpu" {
		t.Errorf("selected backend = %s, want cpu (fallback)", got)
	}
}

func TestRegistryRequestDevice_NoneAvailable(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RequestDevice(context.Background(), AdapterOptions{}); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("empty registry error = %v, want ErrNoAdapter", err)
	}

	r.Register("gpu", 100, func(context.Context, AdapterOptions) (Device, error) {
		return nil, errors.New("driver missing")
	}, nil)
	_, err := r.RequestDevice(context.Background(), AdapterOptions{})
	if !errors.Is(err, ErrNoAdapter) {
		t.Errorf("all-failing registry error = %v, want ErrNoAdapter", err)
	}
}

func TestRegistryRequestDeviceByName(t *testing.T) {
	r := NewRegistry()
	r.Register("off", 10, stubFactory("off"), func() bool { return false })

	_, err := r.RequestDeviceByName(context.Background(), "missing", AdapterOptions{})
	var notFound *BackendNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("error = %v, want *BackendNotFoundError", err)
	}

	_, err = r.RequestDeviceByName(context.Background(), "off", AdapterOptions{})
	var unavailable *BackendUnavailableError
	if !errors.As(err, &unavailable) {
		t.Errorf("error = %v, want *BackendUnavailableError", err)
	}
}

func TestWorkgroups(t *testing.T) {
	tests := []struct {
		n, size, want uint32
	}{
		{0, 256, 0},
		{1, 256, 1},
		{256, 256, 1},
		{257, 256, 2},
		{1_000_000, 256, 3907},
		{10, 0, 0},
		{^uint32(0), 1, ^uint32(0)},
	}
	for _, tt := range tests {
		if got := Workgroups(tt.n, tt.size); got != tt.want {
			t.Errorf("Workgroups(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}
