package management

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/ovpn-admin/common"
)

const (
	undefSentinel = "UNDEF"
	timeTSuffix   = " (time_t)"
)

// Columns whose raw values are converted while building status rows.
var (
	intColumns  = map[string]bool{"Bytes Received": true, "Bytes Sent": true, "Client ID": true, "Peer ID": true}
	nullColumns = map[string]bool{"Username": true}
)

// Row is one record of a status table. Values are string, int64, time.Time
// or nil.
type Row map[string]any

// Text returns the value of key when it is a string.
func (r Row) Text(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the value of key when it is an integer.
func (r Row) Int(key string) (int64, bool) {
	n, ok := r[key].(int64)
	return n, ok
}

// Time returns the value of key when it is a merged time column.
func (r Row) Time(key string) (time.Time, bool) {
	t, ok := r[key].(time.Time)
	return t, ok
}

// StatusSnapshot is the parsed reply to status 3. Tables are keyed by the
// lower-cased table name (client_list, routing_table, ...).
type StatusSnapshot struct {
	Tables      map[string][]Row
	GlobalStats []string
}

// Table returns the rows of a table, or nil when the server sent none.
func (s *StatusSnapshot) Table(name string) []Row {
	return s.Tables[strings.ToLower(name)]
}

// TableNames returns the table keys in sorted order.
func (s *StatusSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flatten returns the snapshot as a single mapping with tables and
// global_stats side by side, which is how it is rendered as JSON or YAML.
func (s *StatusSnapshot) Flatten() map[string]any {
	out := make(map[string]any, len(s.Tables)+1)
	for name, rows := range s.Tables {
		out[name] = rows
	}
	if s.GlobalStats != nil {
		out["global_stats"] = s.GlobalStats
	}
	return out
}

// ParseStatus parses a status 3 reply. Columns are declared at runtime by
// HEADER lines; a data line for a table with no declared header is logged
// and skipped.
func ParseStatus(data string, logger common.Logger) (*StatusSnapshot, error) {
	if logger == nil {
		logger = common.NopLogger{}
	}
	snap := &StatusSnapshot{Tables: make(map[string][]Row)}
	tableDefs := make(map[string][]string)

	for _, line := range splitLines(data) {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		header, params := parts[0], parts[1:]

		switch header {
		case "TITLE", "TIME":
			continue
		case "HEADER":
			if len(params) == 0 {
				return nil, malformed("HEADER without table name", line)
			}
			tableDefs[params[0]] = params[1:]
		case "GLOBAL_STATS":
			snap.GlobalStats = params
		default:
			columns, ok := tableDefs[header]
			if !ok {
				logger.Warn("unknown status table %q, row skipped", header)
				continue
			}
			row, err := buildRow(columns, params)
			if err != nil {
				return nil, err
			}
			key := strings.ToLower(header)
			snap.Tables[key] = append(snap.Tables[key], row)
		}
	}
	return snap, nil
}

func buildRow(columns, values []string) (Row, error) {
	raw := make(map[string]any, len(columns))
	for i := 0; i < len(columns) && i < len(values); i++ {
		k, v := columns[i], values[i]
		var value any = v
		if intColumns[k] {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, malformed("column "+k+" is not an integer", v)
			}
			value = n
		}
		if nullColumns[k] && v == undefSentinel {
			value = nil
		}
		raw[k] = value
	}

	// "Connected Since" + "Connected Since (time_t)" become one time column.
	type merge struct {
		short, long string
		at          time.Time
	}
	var merges []merge
	for k, v := range raw {
		short, ok := strings.CutSuffix(k, timeTSuffix)
		if !ok {
			continue
		}
		if _, present := raw[short]; !present {
			continue
		}
		s, _ := v.(string)
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, malformed("column "+k+" is not a timestamp", s)
		}
		merges = append(merges, merge{short: short, long: k, at: time.Unix(sec, 0).UTC()})
	}
	for _, m := range merges {
		raw[m.short] = m.at
		delete(raw, m.long)
	}

	row := make(Row, len(raw))
	for k, v := range raw {
		row[normalizeColumn(k)] = v
	}
	return row, nil
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// LoadStats is the parsed reply to load-stats. Values are int64 where they
// parse as integers, string otherwise.
type LoadStats map[string]any

// Int returns an integer counter.
func (l LoadStats) Int(key string) (int64, bool) {
	n, ok := l[key].(int64)
	return n, ok
}

// ParseLoadStats parses a single line of comma-separated key=value pairs.
func ParseLoadStats(data string) (LoadStats, error) {
	stats := LoadStats{}
	line := strings.TrimSpace(data)
	if line == "" {
		return stats, nil
	}
	for _, column := range strings.Split(line, ",") {
		k, v, ok := strings.Cut(column, "=")
		if !ok {
			return nil, malformed("load-stats field without '='", column)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats[k] = n
		} else {
			stats[k] = v
		}
	}
	return stats, nil
}

// LogEntry is a log line split into its fields.
type LogEntry struct {
	Time    int64  `json:"time" yaml:"time"`
	Flags   string `json:"flags" yaml:"flags"`
	Message string `json:"message" yaml:"message"`
}

// ParseLogLine splits a "time,flags,message" log line. The message may
// itself contain commas.
func ParseLogLine(line string) (LogEntry, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return LogEntry{}, malformed("log line needs 3 fields", line)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return LogEntry{}, malformed("log time is not an integer", line)
	}
	return LogEntry{Time: ts, Flags: parts[1], Message: parts[2]}, nil
}
