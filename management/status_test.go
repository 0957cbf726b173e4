package management

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const status3Reply = "TITLE\tOpenVPN 2.6.8 x86_64-pc-linux-gnu\n" +
	"TIME\t2024-01-02 03:04:05\t1704164645\n" +
	"HEADER\tCLIENT_LIST\tCommon Name\tReal Address\tVirtual Address\tVirtual IPv6 Address\tBytes Received\tBytes Sent\tConnected Since\tConnected Since (time_t)\tUsername\tClient ID\tPeer ID\n" +
	"CLIENT_LIST\talice\t203.0.113.5:50123\t10.8.0.6\t\t1024\t2048\t2024-01-02 02:00:00\t1704160800\tUNDEF\t3\t0\n" +
	"CLIENT_LIST\tbob\t198.51.100.7:40000\t10.8.0.10\t\t0\t0\t2024-01-02 03:00:00\t1704164400\tbob\t4\t1\n" +
	"HEADER\tROUTING_TABLE\tVirtual Address\tCommon Name\tReal Address\tLast Ref\tLast Ref (time_t)\n" +
	"ROUTING_TABLE\t10.8.0.6\talice\t203.0.113.5:50123\t2024-01-02 03:04:00\t1704164640\n" +
	"GLOBAL_STATS\tMax bcast/mcast queue length\t0\n"

func TestParseStatus_MinimalClientList(t *testing.T) {
	snap, err := ParseStatus("HEADER\tCLIENT_LIST\tCommon Name\tBytes Received\nCLIENT_LIST\talice\t1024\n", nil)
	require.NoError(t, err)

	rows := snap.Table("client_list")
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"common_name": "alice", "bytes_received": int64(1024)}, rows[0])
}

func TestParseStatus_FullReply(t *testing.T) {
	snap, err := ParseStatus(status3Reply, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"client_list", "routing_table"}, snap.TableNames())
	assert.Equal(t, []string{"Max bcast/mcast queue length", "0"}, snap.GlobalStats)

	clients := snap.Table("CLIENT_LIST")
	require.Len(t, clients, 2)

	alice := clients[0]
	assert.Equal(t, "alice", alice.Text("common_name"))
	assert.Equal(t, "203.0.113.5:50123", alice.Text("real_address"))
	assert.Equal(t, "", alice.Text("virtual_ipv6_address"))
	assert.Equal(t, int64(1024), alice["bytes_received"])
	assert.Equal(t, int64(2048), alice["bytes_sent"])
	assert.Equal(t, int64(3), alice["client_id"])
	assert.Equal(t, int64(0), alice["peer_id"])

	username, present := alice["username"]
	assert.True(t, present)
	assert.Nil(t, username)

	since, ok := alice.Time("connected_since")
	require.True(t, ok)
	assert.Equal(t, time.Unix(1704160800, 0).UTC(), since)
	assert.NotContains(t, alice, "connected_since_(time_t)")

	assert.Equal(t, "bob", clients[1].Text("username"))

	routes := snap.Table("routing_table")
	require.Len(t, routes, 1)
	lastRef, ok := routes[0].Time("last_ref")
	require.True(t, ok)
	assert.Equal(t, int64(1704164640), lastRef.Unix())
}

func TestParseStatus_UnknownTableWarns(t *testing.T) {
	logger := &recordingLogger{}
	snap, err := ParseStatus("MYSTERY\tx\ty\nHEADER\tCLIENT_LIST\tCommon Name\nCLIENT_LIST\tcarol\n", logger)
	require.NoError(t, err)

	assert.Len(t, snap.Table("client_list"), 1)
	assert.Nil(t, snap.Table("mystery"))
	require.Len(t, logger.warnings(), 1)
	assert.Contains(t, logger.warnings()[0], "MYSTERY")
}

func TestParseStatus_UnmergedTimeColumnKept(t *testing.T) {
	snap, err := ParseStatus("HEADER\tX\tSeen (time_t)\nX\t1700000000\n", nil)
	require.NoError(t, err)
	assert.Equal(t, Row{"seen_(time_t)": "1700000000"}, snap.Table("x")[0])
}

func TestParseStatus_BadIntegerColumn(t *testing.T) {
	_, err := ParseStatus("HEADER\tCLIENT_LIST\tBytes Sent\nCLIENT_LIST\tlots\n", nil)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestParseStatus_HeaderWithoutName(t *testing.T) {
	_, err := ParseStatus("HEADER\n", nil)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestStatusSnapshot_FlattenJSON(t *testing.T) {
	snap, err := ParseStatus(status3Reply, nil)
	require.NoError(t, err)

	data, err := json.Marshal(snap.Flatten())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "client_list")
	assert.Contains(t, decoded, "routing_table")
	assert.Contains(t, decoded, "global_stats")
}

func TestParseLoadStats(t *testing.T) {
	stats, err := ParseLoadStats("nclients=3,bytesin=1024,bytesout=2048\n")
	require.NoError(t, err)
	assert.Equal(t, LoadStats{"nclients": int64(3), "bytesin": int64(1024), "bytesout": int64(2048)}, stats)

	n, ok := stats.Int("nclients")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestParseLoadStats_StringFallback(t *testing.T) {
	stats, err := ParseLoadStats("mode=server,nclients=1")
	require.NoError(t, err)
	assert.Equal(t, "server", stats["mode"])

	_, ok := stats.Int("mode")
	assert.False(t, ok)
}

func TestParseLoadStats_Malformed(t *testing.T) {
	_, err := ParseLoadStats("nclients")
	assert.ErrorIs(t, err, ErrMalformedReply)

	stats, err := ParseLoadStats("")
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestParseState(t *testing.T) {
	records, err := ParseState("1000,CONNECTED,SUCCESS,10.0.0.1,203.0.113.5\n")
	require.NoError(t, err)
	assert.Equal(t, []StateRecord{{
		Time:        1000,
		State:       "CONNECTED",
		Description: "SUCCESS",
		LocalIP:     "10.0.0.1",
		RemoteIP:    "203.0.113.5",
	}}, records)
}

func TestParseState_ExtraFieldsIgnored(t *testing.T) {
	records, err := ParseState("1000,CONNECTED,SUCCESS,10.0.0.1,203.0.113.5,1194,,,\n")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "203.0.113.5", records[0].RemoteIP)
}

func TestParseState_Malformed(t *testing.T) {
	_, err := ParseState("1000,CONNECTED\n")
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = ParseState("yesterday,CONNECTED,SUCCESS,10.0.0.1,\n")
	assert.ErrorIs(t, err, ErrMalformedReply)

	records, err := ParseState("")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseVersion(t *testing.T) {
	info := ParseVersion("OpenVPN Version: OpenVPN 2.6.8 x86_64-pc-linux-gnu [SSL (OpenSSL)]\nManagement Version: 5\nno colon here\nOther: x\n")
	assert.Equal(t, VersionInfo{
		OpenVPN:    "OpenVPN 2.6.8 x86_64-pc-linux-gnu [SSL (OpenSSL)]",
		Management: "5",
	}, info)
}

func TestParseLogLine(t *testing.T) {
	entry, err := ParseLogLine("1704164645,I,Peer Connection Initiated with [AF_INET]203.0.113.5:50123, ok")
	require.NoError(t, err)
	assert.Equal(t, LogEntry{Time: 1704164645, Flags: "I", Message: "Peer Connection Initiated with [AF_INET]203.0.113.5:50123, ok"}, entry)

	_, err = ParseLogLine("garbage")
	assert.ErrorIs(t, err, ErrMalformedReply)
}
