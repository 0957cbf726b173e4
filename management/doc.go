// Package management implements a client for the OpenVPN management
// interface, the line-oriented text protocol a running server exposes on a
// local TCP or unix socket.
//
// # Protocol
//
// Commands are single lines. Replies come in two shapes:
//
//   - single line, usually "SUCCESS: text" or "ERROR: text"
//   - multiple lines terminated by a line reading END
//
// Realtime notifications (">STATE:...", ">LOG:...") may arrive at any time,
// interleaved with replies. They are dropped unless a caller asks for them.
// The first message after connecting is the realtime banner announcing the
// management interface version.
//
// # Usage
//
//	cfg := management.DefaultConfig()
//	err := management.WithSession(ctx, cfg, func(s *management.Session) error {
//	    status, err := s.Status(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    for _, client := range status.Table("client_list") {
//	        fmt.Println(client.Text("common_name"))
//	    }
//	    return nil
//	})
//
// # Errors
//
// Failures are *TransportError or *ProtocolError values. Both unwrap to a
// kind sentinel (ErrTimeout, ErrServer, ErrSessionClosed, ...) so callers
// can use errors.Is. A transport failure in the middle of a command closes
// the session because the reply stream can no longer be trusted.
//
// # Thread Safety
//
// A Session serializes commands behind one lock held for the whole
// send-and-receive exchange, so replies never interleave.
package management
