// Package metrics exposes Prometheus counters for controller traffic and a status endpoint
// reporting which users currently have network access.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/udisondev/gosrun/internal/srun"
)

const namespace = "srun"

// Metrics implements srun.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	results  *prometheus.CounterVec
	online   *prometheus.GaugeVec
	checked  *prometheus.GaugeVec

	mu    sync.RWMutex
	users map[string]UserStatus
}

// UserStatus is the last known state of one account.
type UserStatus struct {
	Online    bool      `json:"online"`
	IP        string    `json:"ip,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

var _ srun.Observer = (*Metrics)(nil)

// New creates Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests sent to the controller (per endpoint and status)",
			},
			[]string{"endpoint", "status"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Finished login and logout calls (per action and outcome)",
			},
			[]string{"action", "outcome"},
		),
		online: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "user_online",
				Help:      "1 when the last check left the user online",
			},
			[]string{"user"},
		),
		checked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "user_last_check_timestamp_seconds",
				Help:      "Unix time of the last check per user",
			},
			[]string{"user"},
		),
		users: make(map[string]UserStatus),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.results,
		m.online,
		m.checked,
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one controller request.
func (m *Metrics) ObserveRequest(endpoint string, err error) {
	m.requests.WithLabelValues(endpoint, status(err)).Inc()
}

// ObserveResult counts one finished Login or Logout call.
func (m *Metrics) ObserveResult(action srun.Action, outcome srun.Outcome, err error) {
	label := outcome.String()
	if err != nil {
		label = "error"
	}
	m.results.WithLabelValues(string(action), label).Inc()
}

// SetStatus records the state of user after a check.
func (m *Metrics) SetStatus(user string, st UserStatus) {
	if st.CheckedAt.IsZero() {
		st.CheckedAt = time.Now()
	}

	m.mu.Lock()
	m.users[user] = st
	m.mu.Unlock()

	v := 0.0
	if st.Online {
		v = 1
	}
	m.online.WithLabelValues(user).Set(v)
	m.checked.WithLabelValues(user).Set(float64(st.CheckedAt.Unix()))
}

// Snapshot returns a copy of all user states and whether every known user is online.
// With no users recorded yet healthy is false.
func (m *Metrics) Snapshot() (users map[string]UserStatus, healthy bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users = make(map[string]UserStatus, len(m.users))
	healthy = len(m.users) > 0
	for name, st := range m.users {
		users[name] = st
		if !st.Online {
			healthy = false
		}
	}
	return users, healthy
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
