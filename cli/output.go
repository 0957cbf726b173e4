package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/management"
)

// render writes v as JSON or YAML, or calls text for the text format.
func (c *CLI) render(v any, text func(w io.Writer) error) error {
	switch c.output {
	case common.OutputJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case common.OutputYAML:
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(c.out)
	}
}

// preferredColumns orders the well-known status columns first.
var preferredColumns = []string{
	"common_name", "real_address", "virtual_address", "virtual_ipv6_address",
	"bytes_received", "bytes_sent", "connected_since", "last_ref",
	"username", "client_id", "peer_id",
}

func tableColumns(rows []management.Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}

	cols := make([]string, 0, len(seen))
	for _, k := range preferredColumns {
		if seen[k] {
			cols = append(cols, k)
			delete(seen, k)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05")
	case string:
		if v == "" {
			return "-"
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

func writeStatus(w io.Writer, snap *management.StatusSnapshot) error {
	names := snap.TableNames()
	if len(names) == 0 {
		fmt.Fprintln(w, "No status tables.")
	}

	for i, name := range names {
		if i > 0 {
			fmt.Fprintln(w)
		}
		rows := snap.Table(name)
		fmt.Fprintf(w, "%s (%d)\n", strings.ToUpper(name), len(rows))

		cols := tableColumns(rows)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		headers := make([]string, len(cols))
		for j, col := range cols {
			headers[j] = strings.ToUpper(col)
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		for _, row := range rows {
			values := make([]string, len(cols))
			for j, col := range cols {
				values[j] = formatValue(row[col])
			}
			fmt.Fprintln(tw, strings.Join(values, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(snap.GlobalStats) > 0 {
		fmt.Fprintf(w, "\nGLOBAL STATS: %s\n", strings.Join(snap.GlobalStats, " "))
	}
	return nil
}

func writeState(w io.Writer, records []management.StateRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATE\tDESCRIPTION\tLOCAL IP\tREMOTE IP")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			time.Unix(r.Time, 0).UTC().Format("2006-01-02 15:04:05"),
			r.State, formatValue(r.Description), formatValue(r.LocalIP), formatValue(r.RemoteIP))
	}
	return tw.Flush()
}

func writeLoadStats(w io.Writer, stats management.LoadStats) error {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, formatValue(stats[k]))
	}
	return tw.Flush()
}

func writeLogEntries(w io.Writer, entries []management.LogEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", time.Unix(e.Time, 0).UTC().Format("2006-01-02 15:04:05"), formatValue(e.Flags), e.Message)
	}
	return tw.Flush()
}

// writeReply prints the single-line text of an administrative command.
func writeReply(w io.Writer, reply string) error {
	reply = strings.TrimRight(reply, "\n")
	if reply == "" {
		reply = "OK"
	}
	_, err := fmt.Fprintln(w, reply)
	return err
}
