package pipelines

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProber struct {
	calls   int
	probeFn func(ctx context.Context) (*Capabilities, error)
}

func (f *fakeProber) Probe(ctx context.Context) (*Capabilities, error) {
	f.calls++
	return f.probeFn(ctx)
}

func TestCachedDoctor_TTL(t *testing.T) {
	fake := &fakeProber{probeFn: func(ctx context.Context) (*Capabilities, error) {
		return &Capabilities{Available: true, ToolVersion: "26.3.1", ProbedAt: time.Now()}, nil
	}}

	doc := NewCachedDoctor(fake, testLogger())
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if !caps1.Available {
		t.Error("expected Available=true")
	}

	caps2, _ := doc.Get(ctx)
	if caps2.ProbedAt != caps1.ProbedAt {
		t.Error("expected cached result on second call")
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 call (cached), got %d", fake.calls)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("third Get (after TTL): %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", fake.calls)
	}
}

func TestCachedDoctor_CachesFailure(t *testing.T) {
	fake := &fakeProber{probeFn: func(ctx context.Context) (*Capabilities, error) {
		return nil, errors.New("not installed")
	}}

	doc := NewCachedDoctor(fake, testLogger())
	caps, err := doc.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error from Refresh")
	}
	if caps == nil || caps.Available || caps.Error != "not installed" {
		t.Errorf("caps = %+v, want unavailable placeholder", caps)
	}
	if doc.Peek() != caps {
		t.Error("Peek() should return the cached failure")
	}
}

func TestCachedDoctor_Invalidate(t *testing.T) {
	fake := &fakeProber{probeFn: func(ctx context.Context) (*Capabilities, error) {
		return &Capabilities{ProbedAt: time.Now()}, nil
	}}

	doc := NewCachedDoctor(fake, testLogger())
	ctx := context.Background()

	doc.Get(ctx)
	doc.Invalidate()
	if doc.Peek() != nil {
		t.Error("Peek() after Invalidate should be nil")
	}
	doc.Get(ctx)
	if fake.calls != 2 {
		t.Errorf("expected 2 calls after Invalidate, got %d", fake.calls)
	}
}
