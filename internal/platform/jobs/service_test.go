package jobs

import (
	"context"
	"testing"
	"time"

	"emooti/internal/platform/config"
)

type fakeSweeper struct {
	got chan time.Duration
}

func (f *fakeSweeper) Sweep(maxIdle time.Duration) int {
	select {
	case f.got <- maxIdle:
	default:
	}
	return 0
}

func TestSweepUsesFixedIdleWindow(t *testing.T) {
	sweeper := &fakeSweeper{got: make(chan time.Duration, 1)}
	svc := New(nil, config.Config{}, nil, nil, sweeper, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.scheduleSweep(ctx, 5*time.Millisecond)

	select {
	case maxIdle := <-sweeper.got:
		if maxIdle != time.Hour {
			t.Fatalf("sweep max idle = %v, want %v", maxIdle, time.Hour)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep was not invoked")
	}
}
