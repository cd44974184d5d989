package idpool

import (
	"errors"
	"testing"

	"github.com/parrotrun/parrot/internal/parrotos"
)

func TestAllocateWithinCapacity(t *testing.T) {
	p := New(4)
	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id < 0 || id >= 4 {
			t.Fatalf("id %d out of range [0,4)", id)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestAllocateExhausted(t *testing.T) {
	p := New(2)
	if _, err := p.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Allocate(); err != nil {
		t.Fatal(err)
	}
	_, err := p.Allocate()
	if !errors.Is(err, parrotos.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestFreeThenAllocateReturnsIDInRange(t *testing.T) {
	p := New(1)
	id, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Free(id); err != nil {
		t.Fatal(err)
	}
	id2, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("expected recycled id %d, got %d", id, id2)
	}
}

func TestFreeUnallocatedFails(t *testing.T) {
	p := New(2)
	err := p.Free(0)
	if !errors.Is(err, parrotos.ErrInvalidFree) {
		t.Fatalf("expected ErrInvalidFree, got %v", err)
	}
}

func TestFreeTwiceFails(t *testing.T) {
	p := New(2)
	id, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Free(id); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(id); !errors.Is(err, parrotos.ErrInvalidFree) {
		t.Fatalf("expected ErrInvalidFree on double free, got %v", err)
	}
}
