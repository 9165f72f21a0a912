package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the health of one component or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultProbeTimeout = 5 * time.Second

// Probe pings one dependency: the session store, the record store or a
// model backend. A failing critical probe makes the process unhealthy,
// any other failure only degrades it.
type Probe struct {
	Name     string
	Ping     func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// StoreProbe is a critical probe for a storage backend.
func StoreProbe(name string, ping func(context.Context) error) Probe {
	return Probe{Name: name, Ping: ping, Critical: true}
}

// ComponentStatus is the outcome of a single probe.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Report is the body served on /health.
type Report struct {
	Status     Status                     `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components"`
	Goroutines int                        `json:"goroutines"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Health holds the registered probes.
type Health struct {
	version string
	started time.Time

	mu     sync.RWMutex
	probes map[string]Probe
}

func NewHealth(version string) *Health {
	return &Health{
		version: version,
		started: time.Now(),
		probes:  make(map[string]Probe),
	}
}

// Register adds p, replacing a probe with the same name.
func (h *Health) Register(p Probe) {
	if p.Timeout <= 0 {
		p.Timeout = defaultProbeTimeout
	}
	h.mu.Lock()
	h.probes[p.Name] = p
	h.mu.Unlock()
}

// Report runs every probe concurrently and folds the results.
func (h *Health) Report(ctx context.Context) Report {
	h.mu.RLock()
	probes := make([]Probe, 0, len(h.probes))
	for _, p := range h.probes {
		probes = append(probes, p)
	}
	h.mu.RUnlock()

	statuses := make([]ComponentStatus, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			statuses[i] = ping(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	r := Report{
		Status:     StatusHealthy,
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]ComponentStatus, len(probes)),
		Goroutines: runtime.NumGoroutine(),
		CheckedAt:  time.Now().UTC(),
	}
	for i, p := range probes {
		st := statuses[i]
		r.Components[p.Name] = st
		if st.Status == StatusUnhealthy {
			r.Status = StatusUnhealthy
		} else if st.Status == StatusDegraded && r.Status == StatusHealthy {
			r.Status = StatusDegraded
		}
	}
	return r
}

func ping(ctx context.Context, p Probe) ComponentStatus {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	st := ComponentStatus{Status: StatusHealthy, Latency: time.Since(start).String()}
	if err != nil {
		st.Status = StatusDegraded
		if p.Critical {
			st.Status = StatusUnhealthy
		}
		st.Error = err.Error()
	}
	return st
}

// ServeReport writes the full report; 503 when unhealthy.
func (h *Health) ServeReport(w http.ResponseWriter, r *http.Request) {
	rep := h.Report(r.Context())
	code := http.StatusOK
	if rep.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Live answers as long as the process serves HTTP.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready answers 200 only while every probe passes.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Report(r.Context()).Status == StatusHealthy {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
