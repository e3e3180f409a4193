package refresh_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"grantline/internal/refresh"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := refresh.NewHub()
	ch1, cancel1 := hub.Subscribe()
	defer cancel1()
	ch2, cancel2 := hub.Subscribe()
	defer cancel2()

	hub.Publish(refresh.Signal{ProjectID: "proj-1", Kind: refresh.KindEvents})
	for _, ch := range []<-chan refresh.Signal{ch1, ch2} {
		select {
		case sig := <-ch:
			if sig.ProjectID != "proj-1" || sig.Kind != refresh.KindEvents {
				t.Fatalf("unexpected signal %+v", sig)
			}
		default:
			t.Fatalf("signal not delivered")
		}
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := refresh.NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Far more signals than the subscriber buffer holds; the slow
		// subscriber just misses some.
		for i := 0; i < 100; i++ {
			hub.Publish(refresh.Signal{ProjectID: "proj-1", Kind: refresh.KindEvents})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := refresh.NewHub()
	ch, cancel := hub.Subscribe()
	cancel()
	hub.Publish(refresh.Signal{ProjectID: "proj-1", Kind: refresh.KindEvents})
	select {
	case <-ch:
		t.Fatalf("cancelled subscriber still receiving")
	default:
	}
}

func TestPollerFetchesOnSignal(t *testing.T) {
	hub := refresh.NewHub()
	fetched := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := refresh.Poller{
		Interval: time.Hour, // only signals should trigger
		Hub:      hub,
		Fetch: func(ctx context.Context) error {
			fetched <- struct{}{}
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Give the poller time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	hub.Publish(refresh.Signal{ProjectID: "proj-1", Kind: refresh.KindEvents})

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatalf("fetch not triggered by signal")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop on cancel")
	}
}

func TestPollerFetchesOnTick(t *testing.T) {
	fetched := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := refresh.Poller{
		Interval: 10 * time.Millisecond,
		Fetch: func(ctx context.Context) error {
			fetched <- struct{}{}
			return nil
		},
	}
	go p.Run(ctx)

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatalf("fetch not triggered by tick")
	}
}
