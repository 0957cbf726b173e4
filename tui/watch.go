// Package tui implements the live watch dashboard.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpn-admin/management"
	"github.com/yllada/ovpn-admin/monitor"
)

const (
	minTableHeight = 3
	chromeHeight   = 10

	minInterval = time.Second
	maxInterval = 5 * time.Minute
)

// Source produces samples in the background. *monitor.Monitor implements it.
type Source interface {
	SetOnSample(callback func(monitor.Sample))
	Start(ctx context.Context)
	Stop()
	Refresh()
	Config() monitor.Config
	UpdateConfig(config monitor.Config)
}

type sampleMsg monitor.Sample

var clientColumns = []table.Column{
	{Title: "Common Name", Width: 18},
	{Title: "Real Address", Width: 22},
	{Title: "Virtual Address", Width: 16},
	{Title: "Received", Width: 10},
	{Title: "Sent", Width: 10},
	{Title: "Connected Since", Width: 20},
	{Title: "CID", Width: 5},
}

// Model is the bubbletea model of the watch screen.
type Model struct {
	source   Source
	endpoint string
	interval time.Duration

	clients  table.Model
	last     monitor.Sample
	polled   bool
	width    int
	quitting bool
}

// New returns the watch model for samples coming from source.
func New(source Source, endpoint string) Model {
	t := table.New(
		table.WithColumns(clientColumns),
		table.WithHeight(minTableHeight),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(colorAccent).Bold(true).
		BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorBorder).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(colorHeading).Background(lipgloss.Color("#1B4F8F"))
	t.SetStyles(styles)

	return Model{
		source:   source,
		endpoint: endpoint,
		interval: source.Config().Interval,
		clients:  t,
	}
}

// Run starts source, shows its samples and blocks until the user quits or
// ctx ends. source is stopped before Run returns.
func Run(ctx context.Context, source Source, endpoint string) error {
	return run(ctx, source, endpoint, tea.WithAltScreen())
}

func run(ctx context.Context, source Source, endpoint string, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(source, endpoint), opts...)

	// Send blocks until the program takes the message and returns once the
	// program has exited.
	source.SetOnSample(func(s monitor.Sample) {
		p.Send(sampleMsg(s))
	})
	source.Start(ctx)
	defer source.Stop()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) refresh() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		source.Refresh()
		return nil
	}
}

// withInterval changes the poll interval and asks for a poll so the new
// interval takes effect right away.
func (m Model) withInterval(d time.Duration) (Model, tea.Cmd) {
	d = min(max(d, minInterval), maxInterval)
	if d == m.interval {
		return m, nil
	}
	m.interval = d
	source := m.source
	return m, func() tea.Msg {
		cfg := source.Config()
		cfg.Interval = d
		source.UpdateConfig(cfg)
		source.Refresh()
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		case "+":
			return m.withInterval(m.interval * 2)
		case "-":
			return m.withInterval(m.interval / 2)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.clients.SetHeight(max(minTableHeight, msg.Height-chromeHeight))
		return m, nil

	case sampleMsg:
		m.last = monitor.Sample(msg)
		m.polled = true
		if m.last.Status != nil {
			m.clients.SetRows(clientRows(m.last))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.clients, cmd = m.clients.Update(msg)
	return m, cmd
}

func clientRows(s monitor.Sample) []table.Row {
	clients := s.Status.Table("client_list")
	rows := make([]table.Row, 0, len(clients))
	for _, c := range clients {
		since := "-"
		if ts, ok := c.Time("connected_since"); ok {
			since = ts.Local().Format("2006-01-02 15:04:05")
		}
		cid := "-"
		if id, ok := c.Int("client_id"); ok {
			cid = fmt.Sprint(id)
		}
		rows = append(rows, table.Row{
			c.Text("common_name"),
			c.Text("real_address"),
			c.Text("virtual_address"),
			formatBytes(c, "bytes_received"),
			formatBytes(c, "bytes_sent"),
			since,
			cid,
		})
	}
	return rows
}

func formatBytes(r management.Row, key string) string {
	n, ok := r.Int(key)
	if !ok {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("OpenVPN management: " + m.endpoint))
	b.WriteString("  ")
	b.WriteString(healthBadge(m.last.Health, m.polled))
	b.WriteString("\n\n")

	if !m.polled {
		b.WriteString(labelStyle.Render("Connecting..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.summary())
	b.WriteString("\n")
	if m.last.Status != nil {
		b.WriteString(panelStyle.Render(m.clients.View()))
		b.WriteString("\n")
	}
	if m.last.Err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.last.Err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(fmt.Sprintf("last poll %s  •  every %s  •  r refresh  •  +/- interval  •  q quit",
		m.last.Time.Format("15:04:05"), m.interval)))
	return b.String()
}

func (m Model) summary() string {
	field := func(label, value string) string {
		return labelStyle.Render(label+" ") + valueStyle.Render(value)
	}

	parts := []string{}
	if st := m.last.State; st != nil {
		parts = append(parts, field("state", st.State))
		if st.LocalIP != "" {
			parts = append(parts, field("local", st.LocalIP))
		}
	}
	if stats := m.last.LoadStats; stats != nil {
		for _, key := range []string{"nclients", "bytesin", "bytesout"} {
			if v, ok := stats[key]; ok {
				parts = append(parts, field(key, fmt.Sprint(v)))
			}
		}
	}
	if m.last.Err == nil {
		parts = append(parts, field("latency", m.last.Latency.Round(time.Millisecond).String()))
	}
	return strings.Join(parts, "   ")
}

func healthBadge(h monitor.HealthState, polled bool) string {
	style := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	if !polled {
		return style.Foreground(colorMuted).Render("…")
	}
	switch h {
	case monitor.HealthHealthy:
		style = style.Foreground(colorOK)
	case monitor.HealthDegraded:
		style = style.Foreground(colorWarn)
	case monitor.HealthUnhealthy:
		style = style.Foreground(colorError)
	default:
		style = style.Foreground(colorMuted)
	}
	return style.Render(h.String())
}
