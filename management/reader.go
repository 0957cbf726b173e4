package management

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/yllada/ovpn-admin/common"
)

const (
	// DefaultTerminator ends every multi-line reply.
	DefaultTerminator = "END"

	successPrefix = "SUCCESS:"
	errorPrefix   = "ERROR:"

	// maxPending bounds the bytes buffered while waiting for a newline.
	maxPending = 1 << 20
)

var realtimePattern = regexp.MustCompile(`^>[\w\-]+:`)

// LineKind is the classification of a single reply line.
type LineKind int

const (
	LinePlain LineKind = iota
	LineSuccess
	LineTerminator
	LineError
	LineRealtime
)

// String returns the name of the line kind.
func (k LineKind) String() string {
	switch k {
	case LinePlain:
		return "plain"
	case LineSuccess:
		return "success"
	case LineTerminator:
		return "terminator"
	case LineError:
		return "error"
	case LineRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Classify returns the kind of a decoded line. The terminator only counts in
// multi-line mode.
func Classify(line string, multiline bool, terminator string) LineKind {
	switch {
	case realtimePattern.MatchString(line):
		return LineRealtime
	case strings.HasPrefix(line, errorPrefix):
		return LineError
	case multiline && line == terminator:
		return LineTerminator
	case strings.HasPrefix(line, successPrefix):
		return LineSuccess
	default:
		return LinePlain
	}
}

// ReceiveOptions selects the reply shape for a single receive call.
// The zero value reads one line, drops realtime notifications, fails on
// ERROR lines and strips the SUCCESS: prefix.
type ReceiveOptions struct {
	// Multiline keeps reading until Terminator.
	Multiline bool
	// Terminator defaults to DefaultTerminator.
	Terminator string
	// KeepRealtime returns realtime notifications instead of dropping them.
	KeepRealtime bool
	// IgnoreErrors keeps ERROR lines in the output instead of failing.
	IgnoreErrors bool
	// KeepSuccessPrefix disables SUCCESS: stripping in single-line mode.
	KeepSuccessPrefix bool
}

// lineReader turns the raw byte stream into complete lines. Bytes past the
// last newline stay in pending until the rest of the line arrives, and
// complete lines left over after a reply ends are served to the next call.
type lineReader struct {
	r       io.Reader
	bufSize int
	pending []byte
	logger  common.Logger
	tag     string
}

func newLineReader(r io.Reader, bufSize int, logger common.Logger, tag string) *lineReader {
	if bufSize <= 0 {
		bufSize = common.DefaultBufferSize
	}
	return &lineReader{r: r, bufSize: bufSize, logger: logger, tag: tag}
}

// fill performs one read. A zero-length read without an error is treated as
// a spurious wake-up; io.EOF is a closed connection.
func (lr *lineReader) fill() error {
	if len(lr.pending) > maxPending {
		return malformed("line exceeds buffer limit", string(lr.pending[:64]))
	}
	chunk := make([]byte, lr.bufSize)
	n, err := lr.r.Read(chunk)
	if n > 0 {
		lr.logger.Debug("[%s] recv %q", lr.tag, chunk[:n])
		lr.pending = append(lr.pending, chunk[:n]...)
		return nil
	}
	return transportError(err)
}

func (lr *lineReader) readLine() (string, error) {
	for {
		if i := bytes.IndexByte(lr.pending, '\n'); i >= 0 {
			line := string(lr.pending[:i])
			lr.pending = lr.pending[i+1:]
			return strings.TrimSuffix(line, "\r"), nil
		}
		if err := lr.fill(); err != nil {
			return "", err
		}
	}
}

// waitPrompt consumes input up to and including prompt, which is not newline
// terminated. It reports false without consuming anything if a complete line
// arrives first.
func (lr *lineReader) waitPrompt(prompt string) (bool, error) {
	for {
		if i := bytes.Index(lr.pending, []byte(prompt)); i >= 0 {
			lr.pending = lr.pending[i+len(prompt):]
			return true, nil
		}
		if bytes.IndexByte(lr.pending, '\n') >= 0 {
			return false, nil
		}
		if err := lr.fill(); err != nil {
			return false, err
		}
	}
}

// discardLines drops every complete line still buffered, keeping a trailing
// partial line. The remainder of an aborted multi-line reply is never handed
// to the next command.
func (lr *lineReader) discardLines() {
	if i := bytes.LastIndexByte(lr.pending, '\n'); i >= 0 {
		lr.logger.Debug("[%s] dropped %q after error", lr.tag, lr.pending[:i+1])
		lr.pending = lr.pending[i+1:]
	}
}

// receive reads one reply. The result holds every kept line followed by a
// newline, or is empty when nothing was kept.
func (lr *lineReader) receive(opts ReceiveOptions) (string, error) {
	terminator := opts.Terminator
	if terminator == "" {
		terminator = DefaultTerminator
	}

	var lines []string
	for {
		line, err := lr.readLine()
		if err != nil {
			return "", err
		}

		kind := Classify(line, opts.Multiline, terminator)
		switch kind {
		case LineError:
			// an error ends the reply in both modes
			if opts.Multiline {
				lr.discardLines()
			}
			if !opts.IgnoreErrors {
				return "", protocolError(ErrServer, strings.TrimSpace(line[len(errorPrefix):]))
			}
			return joinLines(append(lines, line)), nil
		case LineRealtime:
			if !opts.KeepRealtime {
				lr.logger.Debug("[%s] dropped realtime %q", lr.tag, line)
				continue
			}
		case LineTerminator:
			return joinLines(lines), nil
		}

		if !opts.Multiline {
			if kind == LineSuccess && !opts.KeepSuccessPrefix {
				line = strings.TrimLeft(line[len(successPrefix):], " \t")
			}
			return joinLines(append(lines, line)), nil
		}
		lines = append(lines, line)
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// splitLines is the inverse of joinLines.
func splitLines(data string) []string {
	data = strings.TrimSuffix(data, "\n")
	if data == "" {
		return nil
	}
	return strings.Split(data, "\n")
}
