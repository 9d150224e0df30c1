package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole health check. Probes still running at
// the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a subsystem health check (event store, delay queue).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a ping function into a named HealthProbe.
type ProbeFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.Label }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is {"status":"healthy"} when no probes are registered,
// matching what the mobile client polls for.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

var errProbeTimeout = errors.New("health check timed out")

// HandleHealth serves GET /api/health. Probes run concurrently; any failure,
// panic or timeout turns the response into a 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	results := runProbes(ctx, probes)

	resp := healthResponse{Status: "healthy", Components: make(map[string]componentStatus, len(probes))}
	status := http.StatusOK
	for i, p := range probes {
		if err := results[i]; err != nil {
			s.Logger.Warn("health probe failed", "probe", p.Name(), "error", err)
			resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[p.Name()] = componentStatus{Status: "healthy"}
	}
	JSON(w, r, status, resp)
}

// runProbes returns one error per probe, in probe order. Probes that have not
// reported when ctx ends get errProbeTimeout.
func runProbes(ctx context.Context, probes []HealthProbe) []error {
	var (
		mu      sync.Mutex
		results = make([]error, len(probes))
		pending = make([]bool, len(probes))
		wg      sync.WaitGroup
	)
	for i := range pending {
		pending[i] = true
	}

	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := checkSafely(ctx, p)
			mu.Lock()
			results[i], pending[i] = err, false
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]error, len(probes))
	for i := range probes {
		if pending[i] {
			out[i] = errProbeTimeout
			continue
		}
		out[i] = results[i]
	}
	return out
}

func checkSafely(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
