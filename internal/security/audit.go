package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"rdpgate/internal/constants"
)

type EventType string

const (
	EventAuthFailure      EventType = "auth_failure"
	EventAuthBlocked      EventType = "auth_blocked"
	EventCapacityExceeded EventType = "capacity_exceeded"
	EventConnectionLimit  EventType = "connection_limit"
	EventOriginRejected   EventType = "origin_rejected"
	EventSessionOpen      EventType = "session_open"
	EventSessionClose     EventType = "session_close"
	EventIdleEvicted      EventType = "idle_evicted"
	EventAuditDropped     EventType = "audit_dropped"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	IP        string    `json:"ip"`
	SessionID string    `json:"session_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Details   string    `json:"details"`
	Severity  Severity  `json:"severity"`
}

// AuditLogger appends security events to audit-YYYY-MM-DD.log in its
// directory, switching files at midnight. At most MaxAuditLogsPerMinute
// events are written per minute. All methods are no-ops on a nil
// *AuditLogger.
type AuditLogger struct {
	mu  sync.Mutex
	dir string
	now func() time.Time

	day  string
	file *os.File
	enc  *json.Encoder

	windowStart time.Time
	written     int
	dropped     int
	closed      bool
}

// NewAuditLogger opens today's audit file in dir, or in the per-OS
// default directory when dir is empty.
func NewAuditLogger(dir string) (*AuditLogger, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultAuditDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	al := &AuditLogger{dir: dir, now: time.Now}
	if err := al.rotate(al.now()); err != nil {
		return nil, err
	}
	return al, nil
}

func DefaultAuditDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", constants.AppName, "audit"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", constants.AppName, "audit"), nil
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, constants.AppName, "audit"), nil
		}
		return filepath.Join(home, ".local", "share", constants.AppName, "audit"), nil
	}
}

// rotate opens the file for now's date if it is not the current one.
func (al *AuditLogger) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if day == al.day && al.file != nil {
		return nil
	}
	name := filepath.Join(al.dir, fmt.Sprintf("audit-%s.log", day))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if al.file != nil {
		al.file.Close()
	}
	al.day, al.file, al.enc = day, file, json.NewEncoder(file)
	return nil
}

func (al *AuditLogger) Log(event AuditEvent) {
	if al == nil {
		return
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.closed {
		return
	}

	now := al.now()
	if now.Sub(al.windowStart) > time.Minute {
		if al.dropped > 0 {
			al.write(AuditEvent{
				Timestamp: now,
				EventType: EventAuditDropped,
				Details:   fmt.Sprintf("%d events dropped by the per-minute cap", al.dropped),
				Severity:  SeverityWarning,
			})
		}
		al.windowStart, al.written, al.dropped = now, 0, 0
		if !al.hasEnoughDiskSpace() {
			al.written = constants.MaxAuditLogsPerMinute
		}
	}
	if al.written >= constants.MaxAuditLogsPerMinute {
		al.dropped++
		return
	}
	if err := al.rotate(now); err != nil {
		return
	}

	al.written++
	event.Timestamp = now
	al.write(event)
}

func (al *AuditLogger) write(event AuditEvent) {
	if al.enc != nil {
		_ = al.enc.Encode(event)
	}
}

func (al *AuditLogger) LogAuthFailure(ip, reason string) {
	al.Log(AuditEvent{
		EventType: EventAuthFailure,
		IP:        ip,
		Details:   reason,
		Severity:  SeverityWarning,
	})
}

func (al *AuditLogger) LogAuthBlocked(ip string, cooldown time.Duration) {
	al.Log(AuditEvent{
		EventType: EventAuthBlocked,
		IP:        ip,
		Details:   fmt.Sprintf("Too many failed authentication attempts, blocked for %v", cooldown),
		Severity:  SeverityCritical,
	})
}

func (al *AuditLogger) LogCapacityExceeded(ip, subject string, limit int) {
	al.Log(AuditEvent{
		EventType: EventCapacityExceeded,
		IP:        ip,
		Subject:   subject,
		Details:   fmt.Sprintf("Session limit of %d reached", limit),
		Severity:  SeverityWarning,
	})
}

func (al *AuditLogger) LogConnectionLimit(ip string) {
	al.Log(AuditEvent{
		EventType: EventConnectionLimit,
		IP:        ip,
		Details:   "Connection limit exceeded",
		Severity:  SeverityWarning,
	})
}

func (al *AuditLogger) LogOriginRejected(ip, origin string) {
	al.Log(AuditEvent{
		EventType: EventOriginRejected,
		IP:        ip,
		Details:   fmt.Sprintf("Origin %q not allowed", SanitizeField(origin, 256)),
		Severity:  SeverityWarning,
	})
}

func (al *AuditLogger) LogSessionOpen(ip, sessionID, subject, target string) {
	al.Log(AuditEvent{
		EventType: EventSessionOpen,
		IP:        ip,
		SessionID: sessionID,
		Subject:   subject,
		Details:   "Session admitted for " + target,
		Severity:  SeverityInfo,
	})
}

func (al *AuditLogger) LogSessionClose(ip, sessionID, subject, reason string) {
	al.Log(AuditEvent{
		EventType: EventSessionClose,
		IP:        ip,
		SessionID: sessionID,
		Subject:   subject,
		Details:   "Session closed: " + reason,
		Severity:  SeverityInfo,
	})
}

func (al *AuditLogger) LogIdleEvicted(ip, sessionID, subject string, idle time.Duration) {
	al.Log(AuditEvent{
		EventType: EventIdleEvicted,
		IP:        ip,
		SessionID: sessionID,
		Subject:   subject,
		Details:   fmt.Sprintf("Idle for more than %v", idle),
		Severity:  SeverityInfo,
	})
}

// hasEnoughDiskSpace stops audit writes when the log volume is nearly full.
// An unreadable volume does not block logging.
func (al *AuditLogger) hasEnoughDiskSpace() bool {
	free, err := freeDiskBytes(al.dir)
	if err != nil {
		return true
	}
	return free > constants.MinDiskSpaceRequired
}

func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	al.closed = true
	if al.file == nil {
		return nil
	}
	err := al.file.Close()
	al.file, al.enc = nil, nil
	return err
}
