package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/management"
)

// fakeClient answers polls from canned values.
type fakeClient struct {
	mu       sync.Mutex
	statsErr error
	closed   bool
	exits    int
	status   bool
}

func (c *fakeClient) LoadStats(context.Context) (management.LoadStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statsErr != nil {
		return nil, c.statsErr
	}
	return management.LoadStats{"nclients": int64(2)}, nil
}

func (c *fakeClient) State(context.Context, string) ([]management.StateRecord, error) {
	return []management.StateRecord{{Time: 1000, State: "CONNECTED", Description: "SUCCESS"}}, nil
}

func (c *fakeClient) Status(context.Context) (*management.StatusSnapshot, error) {
	c.mu.Lock()
	c.status = true
	c.mu.Unlock()
	return &management.StatusSnapshot{Tables: map[string][]management.Row{}}, nil
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.exits++
}

// fakeDialer hands out clients and counts dials.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	err     error
	clients []*fakeClient
}

func (d *fakeDialer) dial(context.Context) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeClient{}
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func testMonitorConfig() Config {
	return Config{
		Interval:             time.Hour,
		FailureThreshold:     2,
		AutoReconnect:        true,
		MaxReconnectAttempts: 2,
	}
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{HealthHealthy, "Healthy"},
		{HealthDegraded, "Degraded"},
		{HealthUnhealthy, "Unhealthy"},
		{HealthUnknown, "Unknown"},
		{HealthState(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("HealthState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Interval != common.MonitorInterval {
		t.Errorf("Interval = %v, want %v", config.Interval, common.MonitorInterval)
	}
	if config.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %v, want 3", config.FailureThreshold)
	}
	if !config.AutoReconnect {
		t.Error("AutoReconnect should be true by default")
	}
	if config.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", config.ReconnectDelay)
	}
	if config.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %v, want 5", config.MaxReconnectAttempts)
	}
}

func TestPoll_Healthy(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)

	var changes []HealthState
	m.SetOnHealthChange(func(_, newState HealthState) { changes = append(changes, newState) })

	sample := m.Poll(context.Background())
	require.NoError(t, sample.Err)
	assert.Equal(t, HealthHealthy, sample.Health)
	assert.Equal(t, int64(2), sample.LoadStats["nclients"])
	require.NotNil(t, sample.State)
	assert.Equal(t, "CONNECTED", sample.State.State)
	assert.Nil(t, sample.Status)

	m.Poll(context.Background())
	assert.Equal(t, 1, d.dials, "session is reused between polls")
	assert.Equal(t, []HealthState{HealthHealthy}, changes)
	assert.Equal(t, sample.Time, m.Health().LastSuccess)
}

func TestPoll_IncludeStatus(t *testing.T) {
	d := &fakeDialer{}
	cfg := testMonitorConfig()
	cfg.IncludeStatus = true
	m := New(d.dial, cfg, nil)

	sample := m.Poll(context.Background())
	require.NoError(t, sample.Err)
	assert.NotNil(t, sample.Status)
	assert.True(t, d.clients[0].status)
}

func TestPoll_DegradedThenUnhealthy(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)
	require.NoError(t, m.Poll(context.Background()).Err)

	serverErr := &management.ProtocolError{Msg: "error received", Kind: management.ErrServer}
	d.clients[0].statsErr = serverErr

	sample := m.Poll(context.Background())
	assert.ErrorIs(t, sample.Err, management.ErrServer)
	assert.Equal(t, HealthDegraded, sample.Health)

	sample = m.Poll(context.Background())
	assert.Equal(t, HealthUnhealthy, sample.Health)
	assert.Equal(t, 2, m.Health().ConsecutiveFails)
	assert.Equal(t, 1, d.dials, "protocol errors keep the session")

	d.clients[0].statsErr = nil
	sample = m.Poll(context.Background())
	assert.Equal(t, HealthHealthy, sample.Health)
	assert.Equal(t, 0, m.Health().ConsecutiveFails)
}

func TestPoll_ReconnectsAfterLostSession(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)
	require.NoError(t, m.Poll(context.Background()).Err)

	var attempts []int
	m.SetOnReconnecting(func(attempt int) { attempts = append(attempts, attempt) })

	first := d.clients[0]
	first.mu.Lock()
	first.statsErr = &management.TransportError{Msg: "connection closed by server", Kind: management.ErrConnectionClosed}
	first.closed = true
	first.mu.Unlock()

	sample := m.Poll(context.Background())
	assert.ErrorIs(t, sample.Err, management.ErrConnectionClosed)
	assert.Equal(t, 1, first.exits)

	sample = m.Poll(context.Background())
	require.NoError(t, sample.Err)
	assert.Equal(t, 2, d.dials)
	assert.Equal(t, []int{1}, attempts)
	assert.Equal(t, 0, m.Health().ReconnectAttempts)
}

func TestPoll_GivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)
	require.NoError(t, m.Poll(context.Background()).Err)

	var failed error
	m.SetOnReconnectFailed(func(err error) { failed = err })

	d.clients[0].Exit()
	refused := errors.New("connection refused")
	d.setErr(refused)

	m.Poll(context.Background()) // notices the closed session
	m.Poll(context.Background()) // attempt 1
	assert.Nil(t, failed)
	m.Poll(context.Background()) // attempt 2
	assert.ErrorIs(t, failed, refused)

	dials := d.dials
	sample := m.Poll(context.Background())
	assert.ErrorIs(t, sample.Err, common.ErrNotConnected)
	assert.Equal(t, dials, d.dials)
	assert.Equal(t, HealthUnhealthy, sample.Health)
}

func TestPoll_NoAutoReconnect(t *testing.T) {
	d := &fakeDialer{}
	cfg := testMonitorConfig()
	cfg.AutoReconnect = false
	m := New(d.dial, cfg, nil)
	require.NoError(t, m.Poll(context.Background()).Err)

	d.clients[0].Exit()
	m.Poll(context.Background())
	sample := m.Poll(context.Background())

	assert.ErrorIs(t, sample.Err, common.ErrNotConnected)
	assert.Equal(t, 1, d.dials)
}

func TestPoll_InitialDialFailureKeepsTrying(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m := New(d.dial, testMonitorConfig(), nil)

	for i := 0; i < 4; i++ {
		assert.Error(t, m.Poll(context.Background()).Err)
	}
	assert.Equal(t, 4, d.dials)
	assert.Equal(t, 0, m.Health().ReconnectAttempts)

	d.setErr(nil)
	assert.NoError(t, m.Poll(context.Background()).Err)
}

func isRunning(m *Monitor) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func TestMonitor_StartStop(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)

	polled := make(chan Sample, 1)
	m.SetOnSample(func(s Sample) {
		select {
		case polled <- s:
		default:
		}
	})

	if isRunning(m) {
		t.Error("Monitor should not be running initially")
	}

	m.Start(context.Background())
	m.Start(context.Background())
	if !isRunning(m) {
		t.Error("Monitor should be running after Start()")
	}

	select {
	case s := <-polled:
		assert.NoError(t, s.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no poll after Start()")
	}

	m.Stop()
	m.Stop()
	if isRunning(m) {
		t.Error("Monitor should not be running after Stop()")
	}
	assert.Equal(t, 1, d.clients[0].exits)
	assert.Equal(t, HealthHealthy, m.LastSample().Health)
}

func TestMonitor_RefreshPollsImmediately(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)

	polled := make(chan Sample, 4)
	m.SetOnSample(func(s Sample) { polled <- s })

	m.Start(context.Background())
	defer m.Stop()

	for i := 0; i < 2; i++ {
		if i > 0 {
			m.Refresh()
		}
		select {
		case <-polled:
		case <-time.After(2 * time.Second):
			t.Fatalf("poll %d did not happen", i+1)
		}
	}
	// one session serves the initial poll and the refresh
	d.mu.Lock()
	assert.Equal(t, 1, d.dials)
	d.mu.Unlock()
}

func TestMonitor_RefreshWhenStoppedIsHarmless(t *testing.T) {
	m := New((&fakeDialer{}).dial, testMonitorConfig(), nil)
	m.Refresh()
	m.Refresh()
	assert.False(t, isRunning(m))
}

func TestMonitor_UpdateConfigWhileRunning(t *testing.T) {
	d := &fakeDialer{}
	m := New(d.dial, testMonitorConfig(), nil)

	polled := make(chan Sample, 16)
	m.SetOnSample(func(s Sample) {
		select {
		case polled <- s:
		default:
		}
	})

	m.Start(context.Background())
	defer m.Stop()
	<-polled

	cfg := m.Config()
	cfg.Interval = 10 * time.Millisecond
	cfg.IncludeStatus = true
	m.UpdateConfig(cfg)
	// the next poll picks up the shorter interval
	m.Refresh()

	deadline := time.After(2 * time.Second)
	for n := 0; n < 3; {
		select {
		case <-polled:
			n++
		case <-deadline:
			t.Fatal("interval change was not applied")
		}
	}

	d.mu.Lock()
	client := d.clients[0]
	d.mu.Unlock()
	client.mu.Lock()
	assert.True(t, client.status, "status is fetched once IncludeStatus is set")
	client.mu.Unlock()
}

func TestMonitor_UpdateConfig(t *testing.T) {
	m := New(nil, DefaultConfig(), nil)

	newConfig := Config{
		Interval:         60 * time.Second,
		FailureThreshold: 5,
		AutoReconnect:    false,
	}
	m.UpdateConfig(newConfig)

	got := m.Config()
	if got.Interval != 60*time.Second {
		t.Error("UpdateConfig should update Interval")
	}
	if got.FailureThreshold != 5 {
		t.Error("UpdateConfig should update FailureThreshold")
	}
	if got.AutoReconnect != false {
		t.Error("UpdateConfig should update AutoReconnect")
	}

	m.UpdateConfig(Config{})
	got = m.Config()
	assert.Equal(t, common.MonitorInterval, got.Interval)
	assert.Equal(t, 1, got.FailureThreshold)
}
