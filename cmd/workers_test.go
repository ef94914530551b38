package main

import (
	"context"
	"testing"
	"time"
)

func TestJitter(t *testing.T) {
	if got := jitter(0); got != 0 {
		t.Fatalf("jitter(0) = %v", got)
	}
	for i := 0; i < 100; i++ {
		if got := jitter(time.Hour); got < 0 || got >= 6*time.Minute {
			t.Fatalf("jitter(1h) = %v, want [0, 6m)", got)
		}
	}
}

func TestSleepCtx(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatal("sleepCtx returned false on an open context")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatal("sleepCtx returned true on a cancelled context")
	}
	if sleepCtx(ctx, 0) {
		t.Fatal("sleepCtx(0) returned true on a cancelled context")
	}
}
