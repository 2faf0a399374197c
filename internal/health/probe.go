package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Result struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// ProbeRunner runs readiness checks with a bounded per-check timeout.
type ProbeRunner struct {
	checks  []Check
	timeout time.Duration
}

func NewProbeRunner(timeout time.Duration, checks ...Check) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{checks: checks, timeout: timeout}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []Result) {
	ready := true
	results := make([]Result, 0, len(p.checks))
	for _, check := range p.checks {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := check.Probe(cctx)
		cancel()
		res := Result{Name: check.Name, Ready: err == nil}
		if err != nil {
			res.Error = err.Error()
			ready = false
		}
		results = append(results, res)
	}
	return ready, results
}

// RedisCheck pings the session store backend.
func RedisCheck(client redis.UniversalClient) Check {
	return Check{
		Name: "redis",
		Probe: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
