package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestProbeRunnerAllReady(t *testing.T) {
	runner := NewProbeRunner(time.Second,
		Check{Name: "a", Probe: func(context.Context) error { return nil }},
		Check{Name: "b", Probe: func(context.Context) error { return nil }},
	)
	ready, results := runner.Ready(context.Background())
	if !ready {
		t.Fatal("expected ready")
	}
	if len(results) != 2 || !results[0].Ready || !results[1].Ready {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestProbeRunnerReportsFailure(t *testing.T) {
	runner := NewProbeRunner(time.Second,
		Check{Name: "ok", Probe: func(context.Context) error { return nil }},
		Check{Name: "down", Probe: func(context.Context) error { return errors.New("dial refused") }},
	)
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected not ready")
	}
	if results[1].Error != "dial refused" {
		t.Fatalf("expected error surfaced, got %+v", results[1])
	}
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := RedisCheck(client)
	if err := check.Probe(context.Background()); err != nil {
		t.Fatalf("expected healthy redis, got %v", err)
	}

	mr.Close()
	if err := check.Probe(context.Background()); err == nil {
		t.Fatal("expected ping failure after shutdown")
	}
}
