package management

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBanner = ">INFO:OpenVPN Management Interface Version 1 -- type 'help' for more info\r\n"

// fakeServer plays the server side of a management connection. It answers
// each command with a canned reply and records what it received.
type fakeServer struct {
	conn    net.Conn
	replies map[string]string

	mu       sync.Mutex
	commands []string
	done     chan struct{}
}

func (f *fakeServer) serve(greeting string) {
	defer close(f.done)
	if greeting != "" {
		if _, err := f.conn.Write([]byte(greeting)); err != nil {
			return
		}
	}
	r := bufio.NewReader(f.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		if cmd == "exit" {
			f.conn.Close()
			return
		}
		if reply, ok := f.replies[cmd]; ok {
			if _, err := f.conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

func (f *fakeServer) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// waitDone blocks until the server goroutine has finished.
func (f *fakeServer) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server did not finish")
	}
}

func startFake(t *testing.T, greeting string, replies map[string]string) (net.Conn, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	f := &fakeServer{conn: server, replies: replies, done: make(chan struct{})}
	go f.serve(greeting)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.BufferSize = 16
	return cfg
}

func newTestSession(t *testing.T, replies map[string]string) (*Session, *fakeServer) {
	t.Helper()
	conn, f := startFake(t, testBanner, replies)
	s, err := NewSession(context.Background(), conn, testConfig())
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	t.Cleanup(s.Exit)
	return s, f
}

// recordingLogger keeps warnings for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Error(string, ...interface{}) {}
func (l *recordingLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}
