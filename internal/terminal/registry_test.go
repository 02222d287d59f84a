package terminal

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryRemoteHandleRoundTrip(t *testing.T) {
	r := NewRegistry()

	var sent []byte
	h := r.CreateRemote(1, func(data []byte) error {
		sent = append(sent, data...)
		return nil
	})

	if err := h.Write([]byte("ls\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if string(sent) != "ls\r" {
		t.Errorf("sink got %q", sent)
	}

	if ok := r.Feed(1, []byte("output")); !ok {
		t.Fatal("feed should find the handle")
	}
	select {
	case data := <-h.Output():
		if string(data) != "output" {
			t.Errorf("output = %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no output delivered")
	}
}

func TestRegistryFeedUnknownPaneDiscards(t *testing.T) {
	r := NewRegistry()
	if ok := r.Feed(42, []byte("ghost")); ok {
		t.Error("feed to unknown pane should report false")
	}
}

func TestRegistryDestroyClosesHandle(t *testing.T) {
	r := NewRegistry()
	h := r.CreateRemote(1, nil)

	if err := r.Destroy(1); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, ok := r.Get(1); ok {
		t.Error("handle still registered after destroy")
	}
	if err := h.Write([]byte("x")); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("write after close = %v, want ErrHandleClosed", err)
	}
	if _, ok := <-h.Output(); ok {
		t.Error("output channel should be closed")
	}

	// Destroying again is a no-op.
	if err := r.Destroy(1); err != nil {
		t.Errorf("second destroy: %v", err)
	}
}

func TestRegistryReplaceClosesOld(t *testing.T) {
	r := NewRegistry()
	old := r.CreateRemote(1, nil)
	_ = r.CreateRemote(1, nil)

	if err := old.Write([]byte("x")); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("old handle should be closed, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
}

func TestRemoteHandleCloseIsIdempotent(t *testing.T) {
	h := newRemoteHandle(nil)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Feeding a closed handle must not panic.
	h.Feed([]byte("late"))
}
