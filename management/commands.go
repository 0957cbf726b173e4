package management

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// HistoryAll requests the complete history buffer from state and log.
const HistoryAll = "all"

// HistoryCount returns the history argument for the most recent n entries.
// A non-positive n selects the current entry only.
func HistoryCount(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func validHistory(history string) error {
	if history == "" || history == HistoryAll {
		return nil
	}
	if n, err := strconv.Atoi(history); err != nil || n <= 0 {
		return protocolError(ErrInvalidCommand, "history must be a positive count or \"all\", got "+quote(history))
	}
	return nil
}

// VersionInfo is the reply to the version command.
type VersionInfo struct {
	OpenVPN    string `json:"openvpn" yaml:"openvpn"`
	Management string `json:"management" yaml:"management"`
}

// StateRecord is one entry of the connection state history.
type StateRecord struct {
	Time        int64  `json:"time" yaml:"time"`
	State       string `json:"state" yaml:"state"`
	Description string `json:"description" yaml:"description"`
	LocalIP     string `json:"local_ip" yaml:"local_ip"`
	RemoteIP    string `json:"remote_ip" yaml:"remote_ip"`
}

// Version asks for the OpenVPN and management interface versions.
func (s *Session) Version(ctx context.Context) (VersionInfo, error) {
	data, err := s.exec(ctx, "version", ReceiveOptions{Multiline: true})
	if err != nil {
		return VersionInfo{}, err
	}
	return ParseVersion(data), nil
}

// ParseVersion reads the key: value lines of a version reply. Only the
// OpenVPN and management versions are kept.
func ParseVersion(data string) VersionInfo {
	var info VersionInfo
	for _, line := range splitLines(data) {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "OpenVPN Version":
			info.OpenVPN = strings.TrimSpace(v)
		case "Management Version":
			info.Management = strings.TrimSpace(v)
		}
	}
	return info
}

// State returns the connection state history. An empty history returns the
// current state only; otherwise pass HistoryCount(n) or HistoryAll.
func (s *Session) State(ctx context.Context, history string) ([]StateRecord, error) {
	if err := validHistory(history); err != nil {
		return nil, err
	}
	cmd := "state"
	if history != "" {
		cmd += " " + history
	}
	data, err := s.exec(ctx, cmd, ReceiveOptions{Multiline: true})
	if err != nil {
		return nil, err
	}
	return ParseState(data)
}

// ParseState parses comma-separated state lines. Fields after the fifth,
// sent by newer servers, are ignored.
func ParseState(data string) ([]StateRecord, error) {
	records := []StateRecord{}
	for _, line := range splitLines(data) {
		parts := strings.Split(line, ",")
		if len(parts) < 5 {
			return nil, malformed("state line needs 5 fields", line)
		}
		ts, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, malformed("state time is not an integer", line)
		}
		records = append(records, StateRecord{
			Time:        ts,
			State:       parts[1],
			Description: parts[2],
			LocalIP:     parts[3],
			RemoteIP:    parts[4],
		})
	}
	return records, nil
}

// Status returns the server status in format version 3.
func (s *Session) Status(ctx context.Context) (*StatusSnapshot, error) {
	data, err := s.exec(ctx, "status 3", ReceiveOptions{Multiline: true})
	if err != nil {
		return nil, err
	}
	return ParseStatus(data, s.logger)
}

// LoadStats returns the server load counters.
func (s *Session) LoadStats(ctx context.Context) (LoadStats, error) {
	data, err := s.exec(ctx, "load-stats", ReceiveOptions{})
	if err != nil {
		return nil, err
	}
	return ParseLoadStats(data)
}

// Log returns raw log lines. history is HistoryCount(n) or HistoryAll.
func (s *Session) Log(ctx context.Context, history string) ([]string, error) {
	if history == "" {
		return nil, protocolError(ErrInvalidCommand, "log needs a count or \"all\"")
	}
	if err := validHistory(history); err != nil {
		return nil, err
	}
	data, err := s.exec(ctx, "log "+history, ReceiveOptions{Multiline: true})
	if err != nil {
		return nil, err
	}
	lines := splitLines(data)
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// Signals accepted by the signal command.
var Signals = []string{"SIGHUP", "SIGTERM", "SIGUSR1", "SIGUSR2"}

// Signal sends a signal to the server process.
func (s *Session) Signal(ctx context.Context, name string) (string, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	valid := false
	for _, sig := range Signals {
		if sig == name {
			valid = true
			break
		}
	}
	if !valid {
		return "", protocolError(ErrInvalidCommand, "unknown signal "+quote(name))
	}
	return s.exec(ctx, "signal "+name, ReceiveOptions{})
}

// ClientKill disconnects the client with the given client ID.
func (s *Session) ClientKill(ctx context.Context, cid uint64) (string, error) {
	return s.exec(ctx, fmt.Sprintf("client-kill %d", cid), ReceiveOptions{})
}

// Kill disconnects clients by common name or by real address (ip:port).
func (s *Session) Kill(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, " \t") {
		return "", protocolError(ErrInvalidCommand, "kill target must be a single common name or address")
	}
	return s.exec(ctx, "kill "+target, ReceiveOptions{})
}

// HoldRelease lets a server waiting in management hold continue.
func (s *Session) HoldRelease(ctx context.Context) (string, error) {
	return s.exec(ctx, "hold release", ReceiveOptions{})
}

// Verb sets the server log verbosity.
func (s *Session) Verb(ctx context.Context, level int) (string, error) {
	if level < 0 || level > 15 {
		return "", protocolError(ErrInvalidCommand, "verb must be between 0 and 15")
	}
	return s.exec(ctx, "verb "+strconv.Itoa(level), ReceiveOptions{})
}

// Command sends an arbitrary single-line command and returns the reply as
// received by the framer.
func (s *Session) Command(ctx context.Context, cmd string, multiline bool) (string, error) {
	return s.exec(ctx, cmd, ReceiveOptions{Multiline: multiline})
}
