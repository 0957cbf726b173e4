// Package monitor polls a management interface at a fixed interval and
// tracks the health of the link, reconnecting when the session is lost.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/management"
)

// HealthState represents the current health of the management link.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// Client is the part of a management session the monitor uses.
// *management.Session implements it.
type Client interface {
	LoadStats(ctx context.Context) (management.LoadStats, error)
	State(ctx context.Context, history string) ([]management.StateRecord, error)
	Status(ctx context.Context) (*management.StatusSnapshot, error)
	Closed() bool
	Exit()
}

// Dialer opens a new client.
type Dialer func(ctx context.Context) (Client, error)

// SessionDialer returns a Dialer that connects with cfg.
func SessionDialer(cfg management.Config) Dialer {
	return func(ctx context.Context) (Client, error) {
		s, err := management.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Config holds configuration for the monitor.
type Config struct {
	// Interval is how often to poll the server.
	Interval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// AutoReconnect enables reconnecting after the session is lost.
	AutoReconnect bool
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int
	// IncludeStatus also fetches the full status table on each poll.
	IncludeStatus bool
}

// DefaultConfig returns sensible defaults for monitoring.
func DefaultConfig() Config {
	return Config{
		Interval:             common.MonitorInterval,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
	}
}

// Sample is the result of one poll.
type Sample struct {
	Time      time.Time
	Latency   time.Duration
	LoadStats management.LoadStats
	State     *management.StateRecord
	Status    *management.StatusSnapshot
	Health    HealthState
	Err       error
}

// Health tracks the health of the management link.
type Health struct {
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
}

// Monitor polls a management interface.
type Monitor struct {
	mu       sync.RWMutex
	config   Config
	dial     Dialer
	logger   common.Logger
	client   Client
	dialed   bool
	gaveUp   bool
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	refresh  chan struct{}
	health   Health
	last     Sample

	onHealthChange    func(oldState, newState HealthState)
	onReconnecting    func(attempt int)
	onReconnectFailed func(err error)
	onSample          func(Sample)
}

// New creates a monitor that opens sessions with dial.
func New(dial Dialer, config Config, logger common.Logger) *Monitor {
	if logger == nil {
		logger = common.NopLogger{}
	}
	return &Monitor{
		config:  config.normalized(),
		dial:    dial,
		logger:  logger,
		refresh: make(chan struct{}, 1),
	}
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = common.MonitorInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 1
	}
	return c
}

// SetOnHealthChange sets a callback for health state changes.
func (m *Monitor) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = callback
}

// SetOnReconnecting sets a callback for reconnection attempts.
func (m *Monitor) SetOnReconnecting(callback func(attempt int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = callback
}

// SetOnReconnectFailed sets a callback for when reconnecting is abandoned.
func (m *Monitor) SetOnReconnectFailed(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnectFailed = callback
}

// SetOnSample sets a callback invoked after every poll.
func (m *Monitor) SetOnSample(callback func(Sample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSample = callback
}

// Start begins the polling loop. The first poll happens immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stopChan, m.done
	interval := m.config.Interval
	m.mu.Unlock()

	m.logger.Info("Monitor started (interval: %v)", interval)

	go m.runLoop(ctx, stop, done)
}

// Stop stops the polling loop, waits for an in-flight poll and closes the
// session. It also closes a session opened by direct Poll calls.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.running {
		m.running = false
		close(m.stopChan)
		done := m.done
		m.mu.Unlock()

		<-done
		m.logger.Info("Monitor stopped")
	} else {
		m.mu.Unlock()
	}
	m.closeClient()
}

// Refresh asks the polling loop for an immediate poll. Requests made while
// a poll is pending are merged.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Health returns a copy of the current health.
func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// LastSample returns the most recent poll result.
func (m *Monitor) LastSample() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Config returns the current configuration.
func (m *Monitor) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateConfig updates the monitor configuration. A running loop switches
// to a new interval after its next poll.
func (m *Monitor) UpdateConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config.normalized()
}

func (m *Monitor) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := m.Config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		m.Poll(ctx)
		if next := m.Config().Interval; next != interval {
			m.logger.Info("Poll interval changed: %v -> %v", interval, next)
			interval = next
			ticker.Reset(interval)
		}
	}

	poll()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		case <-m.refresh:
			poll()
			ticker.Reset(interval)
		}
	}
}

// Poll performs one check: it makes sure a session is open, fetches the
// load counters and current state, and updates the health.
// Polls must not run concurrently; Start drives them from a single goroutine.
func (m *Monitor) Poll(ctx context.Context) Sample {
	sample := Sample{Time: time.Now()}

	client, err := m.ensureClient(ctx)
	if err == nil {
		err = m.collect(ctx, client, &sample)
		if client.Closed() {
			m.dropClient(client)
		}
	}
	sample.Latency = time.Since(sample.Time)
	sample.Err = err

	return m.record(sample)
}

func (m *Monitor) collect(ctx context.Context, client Client, sample *Sample) error {
	stats, err := client.LoadStats(ctx)
	if err != nil {
		return err
	}
	sample.LoadStats = stats

	records, err := client.State(ctx, "")
	if err != nil {
		return err
	}
	if len(records) > 0 {
		rec := records[len(records)-1]
		sample.State = &rec
	}

	if m.Config().IncludeStatus {
		snap, err := client.Status(ctx)
		if err != nil {
			return err
		}
		sample.Status = snap
	}
	return nil
}

// errGaveUp is reported by polls after reconnecting has been abandoned.
var errGaveUp = errors.New("reconnect attempts exhausted")

func (m *Monitor) ensureClient(ctx context.Context) (Client, error) {
	m.mu.Lock()
	if m.client != nil {
		client := m.client
		m.mu.Unlock()
		return client, nil
	}
	if m.gaveUp {
		m.mu.Unlock()
		return nil, common.WrapError(common.ErrNotConnected, errGaveUp.Error())
	}

	reconnect := m.dialed
	attempt := 0
	if reconnect {
		if !m.config.AutoReconnect {
			m.gaveUp = true
			m.mu.Unlock()
			return nil, common.ErrNotConnected
		}
		m.health.ReconnectAttempts++
		attempt = m.health.ReconnectAttempts
	}
	onReconnecting := m.onReconnecting
	delay := m.config.ReconnectDelay
	m.mu.Unlock()

	if reconnect {
		m.logger.Info("Attempting reconnect (attempt %d)", attempt)
		if onReconnecting != nil {
			onReconnecting(attempt)
		}
		// Wait before reconnecting
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	client, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn("Connecting to management interface failed: %v", err)
		m.maybeGiveUp(attempt, err)
		return nil, err
	}

	m.mu.Lock()
	m.client = client
	m.dialed = true
	m.mu.Unlock()
	if reconnect {
		m.logger.Info("Reconnect successful")
	}
	return client, nil
}

func (m *Monitor) maybeGiveUp(attempt int, err error) {
	m.mu.Lock()
	limit := m.config.MaxReconnectAttempts
	if attempt == 0 || limit == 0 || attempt < limit {
		m.mu.Unlock()
		return
	}
	m.gaveUp = true
	callback := m.onReconnectFailed
	m.mu.Unlock()

	m.logger.Error("Max reconnect attempts reached: %v", err)
	if callback != nil {
		callback(err)
	}
}

func (m *Monitor) dropClient(client Client) {
	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()
	client.Exit()
}

func (m *Monitor) closeClient() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		client.Exit()
	}
}

// record updates the health from a finished poll and fires callbacks.
func (m *Monitor) record(sample Sample) Sample {
	m.mu.Lock()
	health := &m.health
	health.LastCheck = sample.Time
	oldState := health.State

	if sample.Err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		m.logger.Warn("Health check failed (attempt %d/%d): %v",
			health.ConsecutiveFails, m.config.FailureThreshold, sample.Err)

		if health.ConsecutiveFails >= m.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = sample.Time
		health.Latency = sample.Latency
		health.State = HealthHealthy
		health.ReconnectAttempts = 0 // Reset on successful poll
	}

	sample.Health = health.State
	m.last = sample
	newState := health.State
	onChange, onSample := m.onHealthChange, m.onSample
	m.mu.Unlock()

	if oldState != newState {
		m.logger.Info("Health state changed: %s -> %s", oldState, newState)
		if onChange != nil {
			onChange(oldState, newState)
		}
	}
	if onSample != nil {
		onSample(sample)
	}
	return sample
}
