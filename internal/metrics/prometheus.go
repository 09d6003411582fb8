package metrics

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	scalingEventsTotal map[string]map[string]int64 // group -> action -> count
	decisionsTotal     map[string]map[string]int64 // group -> decision -> count
	providerErrors     map[string]int64            // operation -> count
	imagePulls         map[string]int64
	heartbeatTimeouts  map[string]int64

	// Gauges
	groupServers        map[string]int
	groupAutoServers    map[string]int
	groupPlayers        map[string]int
	groupUtilization    map[string]float64
	groupPaused         map[string]bool
	circuitBreakerState map[string]int // 0=closed, 1=open, 2=half-open

	// Last observed latencies
	decisionLatency  map[string]time.Duration
	provisionLatency map[string]time.Duration
}

var (
	instance *Metrics
	once     sync.Once
)

func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New returns an empty registry, mostly useful in tests.
func New() *Metrics {
	return &Metrics{
		scalingEventsTotal:  make(map[string]map[string]int64),
		decisionsTotal:      make(map[string]map[string]int64),
		providerErrors:      make(map[string]int64),
		imagePulls:          make(map[string]int64),
		heartbeatTimeouts:   make(map[string]int64),
		groupServers:        make(map[string]int),
		groupAutoServers:    make(map[string]int),
		groupPlayers:        make(map[string]int),
		groupUtilization:    make(map[string]float64),
		groupPaused:         make(map[string]bool),
		circuitBreakerState: make(map[string]int),
		decisionLatency:     make(map[string]time.Duration),
		provisionLatency:    make(map[string]time.Duration),
	}
}

func (m *Metrics) IncScalingEvent(group, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scalingEventsTotal[group] == nil {
		m.scalingEventsTotal[group] = make(map[string]int64)
	}
	m.scalingEventsTotal[group][action]++
}

func (m *Metrics) IncDecision(group, decision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisionsTotal[group] == nil {
		m.decisionsTotal[group] = make(map[string]int64)
	}
	m.decisionsTotal[group][decision]++
}

func (m *Metrics) IncProviderError(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerErrors[operation]++
}

func (m *Metrics) IncImagePull(image string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imagePulls[image]++
}

func (m *Metrics) IncHeartbeatTimeout(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatTimeouts[group]++
}

// SetGroupState records the gauges of one group after a check.
func (m *Metrics) SetGroupState(group string, servers, autoServers, players int, utilization float64, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupServers[group] = servers
	m.groupAutoServers[group] = autoServers
	m.groupPlayers[group] = players
	m.groupUtilization[group] = utilization
	m.groupPaused[group] = paused
}

func (m *Metrics) RemoveGroup(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groupServers, group)
	delete(m.groupAutoServers, group)
	delete(m.groupPlayers, group)
	delete(m.groupUtilization, group)
	delete(m.groupPaused, group)
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitBreakerState[name] = state
}

func (m *Metrics) SetDecisionLatency(group string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisionLatency[group] = d
}

func (m *Metrics) SetProvisionLatency(group string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisionLatency[group] = d
}

func (m *Metrics) ImagePulls(image string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imagePulls[image]
}

func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		m.WriteTo(w)
	})
}

// WriteTo renders every metric in the Prometheus text format.
func (m *Metrics) WriteTo(w io.Writer) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for group, actions := range m.scalingEventsTotal {
		for action, count := range actions {
			writeMetric(w, "fleet_scaling_events_total", map[string]string{"group": group, "action": action}, float64(count))
		}
	}

	for group, decisions := range m.decisionsTotal {
		for decision, count := range decisions {
			writeMetric(w, "fleet_decisions_total", map[string]string{"group": group, "decision": decision}, float64(count))
		}
	}

	for op, count := range m.providerErrors {
		writeMetric(w, "fleet_provider_errors_total", map[string]string{"operation": op}, float64(count))
	}

	for image, count := range m.imagePulls {
		writeMetric(w, "fleet_image_pulls_total", map[string]string{"image": image}, float64(count))
	}

	for group, count := range m.heartbeatTimeouts {
		writeMetric(w, "fleet_heartbeat_timeouts_total", map[string]string{"group": group}, float64(count))
	}

	for group, count := range m.groupServers {
		writeMetric(w, "fleet_group_servers", map[string]string{"group": group}, float64(count))
	}

	for group, count := range m.groupAutoServers {
		writeMetric(w, "fleet_group_auto_servers", map[string]string{"group": group}, float64(count))
	}

	for group, count := range m.groupPlayers {
		writeMetric(w, "fleet_group_players", map[string]string{"group": group}, float64(count))
	}

	for group, u := range m.groupUtilization {
		writeMetric(w, "fleet_group_utilization", map[string]string{"group": group}, u)
	}

	for group, paused := range m.groupPaused {
		v := 0.0
		if paused {
			v = 1
		}
		writeMetric(w, "fleet_group_paused", map[string]string{"group": group}, v)
	}

	for name, state := range m.circuitBreakerState {
		writeMetric(w, "fleet_circuit_breaker_state", map[string]string{"name": name}, float64(state))
	}

	for group, latency := range m.decisionLatency {
		writeMetric(w, "fleet_decision_latency_ms", map[string]string{"group": group}, float64(latency.Milliseconds()))
	}

	for group, latency := range m.provisionLatency {
		writeMetric(w, "fleet_provision_latency_ms", map[string]string{"group": group}, float64(latency.Milliseconds()))
	}
}

func writeMetric(w io.Writer, name string, labels map[string]string, value float64) {
	var b strings.Builder
	b.WriteString(name)
	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(k + `="` + labels[k] + `"`)
		}
		b.WriteString("}")
	}
	b.WriteString(" " + strconv.FormatFloat(value, 'f', -1, 64) + "\n")
	w.Write([]byte(b.String()))
}

func StartServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Get().Handler())

	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Infof("Prometheus metrics server listening on %s", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Prometheus server error: %v", err)
		}
	}()
	return srv
}
