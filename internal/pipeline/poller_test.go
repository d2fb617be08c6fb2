package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/models"
)

// MockSource returns canned messages, failing the first failures calls.
type MockSource struct {
	name     string
	msgs     []models.RawMessage
	failures int
	interval time.Duration

	mu    sync.Mutex
	calls int
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) Fetch(ctx context.Context) ([]models.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, errors.New("fetch error")
	}
	return m.msgs, nil
}

func (m *MockSource) Interval() time.Duration {
	if m.interval == 0 {
		return 20 * time.Millisecond
	}
	return m.interval
}

func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockProcessor counts batches.
type MockProcessor struct {
	mu      sync.Mutex
	batches [][]models.RawMessage
}

func (m *MockProcessor) ProcessBatch(_ context.Context, msgs []models.RawMessage) []ProcessingResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, msgs)
	out := make([]ProcessingResult, len(msgs))
	for i := range msgs {
		out[i] = ProcessingResult{Success: true, MarkersCreated: 1}
	}
	return out
}

func fastConfig() PollerConfig {
	return PollerConfig{Workers: 2, RatePerSec: 1000, RetryAttempts: 1, RetryDelay: time.Millisecond}
}

func TestPoller_RunOnce(t *testing.T) {
	msgs := []models.RawMessage{{ID: "1", Channel: "c", Text: "x"}, {ID: "2", Channel: "c", Text: "y"}}
	tests := []struct {
		name        string
		source      *MockSource
		wantCreated int
		wantErr     bool
		wantCalls   int
	}{
		{name: "success", source: &MockSource{name: "s", msgs: msgs}, wantCreated: 2, wantCalls: 1},
		{name: "retry then success", source: &MockSource{name: "s", msgs: msgs, failures: 1}, wantCreated: 2, wantCalls: 2},
		{name: "retries exhausted", source: &MockSource{name: "s", msgs: msgs, failures: 5}, wantErr: true, wantCalls: 2},
		{name: "no messages", source: &MockSource{name: "s"}, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &MockProcessor{}
			p := NewPoller(proc, fastConfig(), tt.source)

			created, err := p.RunOnce(context.Background(), tt.source)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunOnce error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var pe apperrors.PipelineError
				if !errors.As(err, &pe) || pe.Stage != "fetch" {
					t.Errorf("expected fetch PipelineError, got %v", err)
				}
			}
			if created != tt.wantCreated {
				t.Errorf("created = %d, want %d", created, tt.wantCreated)
			}
			if tt.source.Calls() != tt.wantCalls {
				t.Errorf("fetch calls = %d, want %d", tt.source.Calls(), tt.wantCalls)
			}
		})
	}
}

func TestPoller_Run(t *testing.T) {
	proc := &MockProcessor{}
	src := &MockSource{name: "s", msgs: []models.RawMessage{{ID: "1", Channel: "c", Text: "x"}}}
	p := NewPoller(proc, fastConfig(), src)

	if p.IsRunning() {
		t.Error("Expected poller not to be running initially")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.Calls() < 2 {
		t.Fatal("source was not polled repeatedly")
	}
	if !p.IsRunning() {
		t.Error("Expected poller to be running")
	}
	if err := p.Run(ctx); !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.IsRunning() {
		t.Error("Expected poller to stop running after cancellation")
	}
}

func TestPoller_WithPipeline(t *testing.T) {
	s := &MockStore{}
	mp := New(&stubParser{}, nil, s, Config{})
	src := &MockSource{name: "s", msgs: []models.RawMessage{
		{ID: "1", Channel: "c", Text: "Шахед курсом на Київ"},
		{ID: "1", Channel: "c", Text: "Шахед курсом на Київ"},
	}}
	created, err := NewPoller(mp, fastConfig(), src).RunOnce(context.Background(), src)
	if err != nil || created != 1 || len(s.tracks) != 1 {
		t.Errorf("created=%d err=%v tracks=%d", created, err, len(s.tracks))
	}
}

// stubParser reports a drone heading to Kyiv for any text.
type stubParser struct{}

func (stubParser) Parse(text string, ts time.Time, channel, id string) *models.ParsedMessage {
	return &models.ParsedMessage{
		RawText: text, Timestamp: ts, Channel: channel, MessageID: id, Count: 1,
		Threat: &models.ThreatInfo{Type: models.ThreatDrone},
		Course: &models.CourseInfo{Target: "Київ", CourseType: models.CourseTargetOnly},
	}
}
