package tui

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/ovpn-admin/management"
	"github.com/yllada/ovpn-admin/monitor"
)

// fakeSource records what the dashboard asks of the monitor.
type fakeSource struct {
	mu        sync.Mutex
	config    monitor.Config
	onSample  func(monitor.Sample)
	starts    int
	stops     int
	refreshes int
	sample    monitor.Sample
	delivered chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		config:    monitor.Config{Interval: 4 * time.Second},
		delivered: make(chan struct{}),
	}
}

func (f *fakeSource) SetOnSample(callback func(monitor.Sample)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSample = callback
}

func (f *fakeSource) Start(context.Context) {
	f.mu.Lock()
	f.starts++
	callback, sample := f.onSample, f.sample
	f.mu.Unlock()
	go func() {
		callback(sample)
		close(f.delivered)
	}()
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSource) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeSource) Config() monitor.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

func (f *fakeSource) UpdateConfig(config monitor.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = config
}

func healthySample(t *testing.T) monitor.Sample {
	t.Helper()
	snap, err := management.ParseStatus(
		"HEADER\tCLIENT_LIST\tCommon Name\tReal Address\tVirtual Address\tBytes Received\tBytes Sent\tConnected Since\tConnected Since (time_t)\tClient ID\n"+
			"CLIENT_LIST\talice\t203.0.113.5:50123\t10.8.0.6\t1536\t512\t2024-01-02 02:00:00\t1704160800\t3\n", nil)
	require.NoError(t, err)

	return monitor.Sample{
		Time:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Latency:   12 * time.Millisecond,
		LoadStats: management.LoadStats{"nclients": int64(1), "bytesin": int64(1536), "bytesout": int64(512)},
		State:     &management.StateRecord{Time: 1000, State: "CONNECTED", LocalIP: "10.8.0.1"},
		Status:    snap,
		Health:    monitor.HealthHealthy,
	}
}

func mustModel(t *testing.T, m tea.Model) Model {
	t.Helper()
	model, ok := m.(Model)
	if !ok {
		t.Fatalf("model type = %T, want tui.Model", m)
	}
	return model
}

func TestModel_WaitsForFirstSample(t *testing.T) {
	m := New(newFakeSource(), "tcp://localhost:7505")

	assert.Nil(t, m.Init())
	assert.Equal(t, 4*time.Second, m.interval)
	assert.Contains(t, m.View(), "Connecting...")
}

func TestModel_SampleFillsTable(t *testing.T) {
	m := New(newFakeSource(), "tcp://localhost:7505")

	next, cmd := m.Update(sampleMsg(healthySample(t)))
	m = mustModel(t, next)
	assert.Nil(t, cmd)

	rows := m.clients.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0][0])
	assert.Equal(t, "1.5 KiB", rows[0][3])
	assert.Equal(t, "512 B", rows[0][4])
	assert.Equal(t, "3", rows[0][6])

	view := m.View()
	assert.Contains(t, view, "Healthy")
	assert.Contains(t, view, "CONNECTED")
	assert.Contains(t, view, "alice")
	assert.Contains(t, view, "nclients")
	assert.Contains(t, view, "every 4s")
}

func TestModel_ErrorSample(t *testing.T) {
	m := New(newFakeSource(), "tcp://localhost:7505")

	next, _ := m.Update(sampleMsg(monitor.Sample{Health: monitor.HealthDegraded, Err: errors.New("connection refused")}))
	view := mustModel(t, next).View()

	assert.Contains(t, view, "Degraded")
	assert.Contains(t, view, "connection refused")
}

func TestModel_RefreshKey(t *testing.T) {
	src := newFakeSource()
	m := New(src, "tcp://localhost:7505")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Equal(t, 1, src.refreshes)
}

func TestModel_IntervalKeys(t *testing.T) {
	tests := []struct {
		name  string
		start time.Duration
		key   rune
		want  time.Duration
	}{
		{"slower", 4 * time.Second, '+', 8 * time.Second},
		{"faster", 4 * time.Second, '-', 2 * time.Second},
		{"floor", 1500 * time.Millisecond, '-', time.Second},
		{"ceiling", 4 * time.Minute, '+', 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.config.Interval = tt.start
			m := New(src, "tcp://localhost:7505")

			next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{tt.key}})
			require.NotNil(t, cmd)
			cmd()

			assert.Equal(t, tt.want, mustModel(t, next).interval)
			assert.Equal(t, tt.want, src.Config().Interval)
			assert.Equal(t, 1, src.refreshes)
		})
	}
}

func TestModel_IntervalAtLimitIsUnchanged(t *testing.T) {
	src := newFakeSource()
	src.config.Interval = time.Second
	m := New(src, "tcp://localhost:7505")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'-'}})
	assert.Nil(t, cmd)
	assert.Zero(t, src.refreshes)
}

func TestModel_Quit(t *testing.T) {
	m := New(newFakeSource(), "tcp://localhost:7505")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, mustModel(t, next).View())
}

func TestModel_WindowResize(t *testing.T) {
	m := New(newFakeSource(), "tcp://localhost:7505")

	next, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Nil(t, cmd)
	m = mustModel(t, next)
	assert.Equal(t, 120, m.width)

	short, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 5})
	assert.LessOrEqual(t, mustModel(t, short).clients.Height(), m.clients.Height())
}

func TestRun_DeliversSamplesAndStopsSource(t *testing.T) {
	src := newFakeSource()
	src.sample = healthySample(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx, src, "tcp://localhost:7505", tea.WithInput(nil), tea.WithOutput(io.Discard))
	}()

	select {
	case <-src.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("sample was not delivered to the program")
	}
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.starts)
	assert.Equal(t, 1, src.stops)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{int64(0), "0 B"},
		{int64(1023), "1023 B"},
		{int64(1024), "1.0 KiB"},
		{int64(5 * 1024 * 1024), "5.0 MiB"},
		{"n/a", "-"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatBytes(management.Row{"bytes": tt.value}, "bytes")
			if got != tt.want {
				t.Errorf("formatBytes(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}
