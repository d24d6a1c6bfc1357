package xsig

import (
	"testing"
)

func TestDispatcherSubscribe(t *testing.T) {
	d := NewDispatcher()

	var got []Update
	sub := d.Subscribe(func(u Update) { got = append(got, u) })
	defer sub.Cancel()

	d.Dispatch(Update{Kind: JoinDigital, Join: 1, Digital: true})
	d.Dispatch(Update{Kind: JoinAnalog, Join: 2, Analog: 50})

	if len(got) != 2 {
		t.Fatalf("got %d updates, want 2", len(got))
	}
	if got[0].Kind != JoinDigital || got[1].Kind != JoinAnalog {
		t.Error("updates delivered out of order")
	}
}

func TestDispatcherCancel(t *testing.T) {
	d := NewDispatcher()

	count := 0
	sub := d.Subscribe(func(Update) { count++ })

	d.Dispatch(Update{Kind: JoinDigital, Join: 1})
	sub.Cancel()
	d.Dispatch(Update{Kind: JoinDigital, Join: 1})

	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
	if d.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", d.SubscriberCount())
	}
}

func TestDispatcherCancelIdempotent(t *testing.T) {
	d := NewDispatcher()
	sub := d.Subscribe(func(Update) {})

	sub.Cancel()
	sub.Cancel() // must not panic or disturb other subscribers

	other := d.Subscribe(func(Update) {})
	defer other.Cancel()
	sub.Cancel()

	if d.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", d.SubscriberCount())
	}
}

func TestDispatcherCancelDuringDispatch(t *testing.T) {
	d := NewDispatcher()

	var sub *Subscription
	count := 0
	sub = d.Subscribe(func(Update) {
		count++
		sub.Cancel() // self-cancel from inside the callback
	})

	d.Dispatch(Update{Kind: JoinDigital, Join: 1})
	d.Dispatch(Update{Kind: JoinDigital, Join: 1})

	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
}

func TestDispatcherPanicRecovery(t *testing.T) {
	d := NewDispatcher()

	survived := 0
	panicking := d.Subscribe(func(Update) { panic("subscriber bug") })
	defer panicking.Cancel()
	healthy := d.Subscribe(func(Update) { survived++ })
	defer healthy.Cancel()

	// Must not panic, and the healthy subscriber still runs.
	d.Dispatch(Update{Kind: JoinSerial, Join: 7, Serial: "x"})

	if survived != 1 {
		t.Errorf("healthy subscriber ran %d times, want 1", survived)
	}
}

func TestDispatcherNoSubscribers(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(Update{Kind: JoinDigital, Join: 1}) // must not panic
}
