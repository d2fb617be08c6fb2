package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/neptunmap/neptun/internal/models"
)

func placed(id string, typ models.ThreatType) *models.Track {
	t := &models.Track{ID: id, ThreatType: typ, Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Count: 1}
	t.SetCoords(50.45, 30.52)
	return t
}

func receive(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case e, ok := <-ch:
		return e, ok
	case <-time.After(time.Second):
		return Event{}, false
	}
}

func waitSubscribers(t *testing.T, b *Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for b.Subscribers() != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if b.Subscribers() != n {
		t.Fatalf("subscribers = %d, want %d", b.Subscribers(), n)
	}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus(8)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := b.Subscribe(ctx, 4, nil)
	drones := b.Subscribe(ctx, 4, func(a models.APITrack) bool { return a.Type == string(models.ThreatDrone) })
	waitSubscribers(t, b, 2)

	b.PublishTrack(placed("rocket", models.ThreatRocket))
	b.PublishTrack(placed("drone", models.ThreatDrone))

	for _, want := range []string{"rocket", "drone"} {
		e, ok := receive(t, all)
		if !ok || e.Track.ID != want || e.Type != "track" {
			t.Fatalf("all: got %+v, want %s", e, want)
		}
	}
	if e, ok := receive(t, drones); !ok || e.Track.ID != "drone" {
		t.Errorf("filtered subscriber got %+v", e)
	}
}

func TestBus_SkipsTracksWithoutCoords(t *testing.T) {
	b := NewBus(8)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, 4, nil)
	waitSubscribers(t, b, 1)

	b.PublishTrack(&models.Track{ID: "pending", ThreatType: models.ThreatDrone})
	b.PublishTrack(placed("placed", models.ThreatDrone))
	if e, ok := receive(t, ch); !ok || e.Track.ID != "placed" {
		t.Errorf("got %+v, want placed", e)
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(1)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Subscribe(ctx, 1, nil)
	waitSubscribers(t, b, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.PublishTrack(placed("x", models.ThreatDrone))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	deadline := time.Now().Add(time.Second)
	for b.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if b.Dropped() == 0 {
		t.Error("expected dropped events")
	}
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	b := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, 1, nil)
	keep := b.Subscribe(context.Background(), 1, nil)
	waitSubscribers(t, b, 2)

	cancel()
	if _, ok := receive(t, ch); ok {
		t.Error("channel should close after ctx cancel")
	}
	waitSubscribers(t, b, 1)

	b.Close()
	b.Close()
	if _, ok := receive(t, keep); ok {
		t.Error("channel should close after bus Close")
	}
	b.PublishTrack(placed("late", models.ThreatDrone))

	late := b.Subscribe(context.Background(), 1, nil)
	if _, ok := receive(t, late); ok {
		t.Error("subscribe after Close should return a closed channel")
	}
}
