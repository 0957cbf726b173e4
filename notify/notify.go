// Package notify shows desktop notifications over the session D-Bus.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/monitor"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyCall = busName + ".Notify"

	defaultIcon   = "network-vpn"
	expireDefault = int32(-1)
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

// icon picks the icon for the notification type unless one is set.
func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return defaultIcon
	}
}

// urgency maps the type onto the freedesktop urgency levels
// (0 low, 1 normal, 2 critical).
func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return 2
	case NotificationWarning:
		return 1
	default:
		return 0
	}
}

type busObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier sends notifications to the desktop notification daemon.
// Each new notification replaces the previous one.
type Notifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	obj     busObject
	lastID  uint32
	appName string
}

// New connects to the session bus.
func New() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Notifier{
		conn:    conn,
		obj:     conn.Object(busName, objectPath),
		appName: common.AppName,
	}, nil
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Show displays a notification.
func (n *Notifier) Show(note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(note.urgency()),
	}
	call := n.obj.Call(notifyCall, 0,
		n.appName, n.lastID, note.icon(), note.Title, note.Message,
		[]string{}, hints, expireDefault)
	if call.Err != nil {
		return fmt.Errorf("send notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("read notification id: %w", err)
	}
	n.lastID = id
	return nil
}

// HealthChange builds the notification for a monitor health transition.
// It reports false for transitions not worth interrupting the user for.
func HealthChange(endpoint string, oldState, newState monitor.HealthState) (Notification, bool) {
	switch newState {
	case monitor.HealthHealthy:
		if oldState == monitor.HealthUnknown {
			return Notification{}, false
		}
		return Notification{
			Title:   "Management interface recovered",
			Message: endpoint + " is responding again",
			Type:    NotificationSuccess,
		}, true
	case monitor.HealthDegraded:
		return Notification{
			Title:   "Management interface degraded",
			Message: endpoint + " failed to answer a poll",
			Type:    NotificationWarning,
		}, true
	case monitor.HealthUnhealthy:
		return Notification{
			Title:   "Management interface unreachable",
			Message: endpoint + " is not responding",
			Type:    NotificationError,
		}, true
	default:
		return Notification{}, false
	}
}

// Attach wires monitor health changes and reconnect failures to desktop
// notifications. Send failures are logged.
func Attach(m *monitor.Monitor, n *Notifier, endpoint string, logger common.Logger) {
	if logger == nil {
		logger = common.NopLogger{}
	}
	m.SetOnHealthChange(func(oldState, newState monitor.HealthState) {
		note, ok := HealthChange(endpoint, oldState, newState)
		if !ok {
			return
		}
		if err := n.Show(note); err != nil {
			logger.Warn("Error showing notification: %v", err)
		}
	})
	m.SetOnReconnectFailed(func(err error) {
		note := Notification{
			Title:   "Reconnect failed",
			Message: fmt.Sprintf("Gave up reconnecting to %s: %v", endpoint, err),
			Type:    NotificationError,
		}
		if err := n.Show(note); err != nil {
			logger.Warn("Error showing notification: %v", err)
		}
	})
}
