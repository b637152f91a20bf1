// pkg/logging/logging.go - timestamped, leveled key/value logging for the up2date service.
//
// Every service start gets its own session directory (YYYY-MM-DD-HHMMss) holding:
// - service.log   plain text, one line per entry
// - events.jsonl  one JSON object per entry
// - events.yaml   YAML documents, for tooling that prefers YAML
// Old session directories are pruned according to the retention policy.

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string to a LogLevel. Unknown values yield INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogEntry is the structured form of one log line.
type LogEntry struct {
	Time       int64                  `json:"time" yaml:"time"`
	Timestamp  string                 `json:"timestamp" yaml:"timestamp"`
	Level      string                 `json:"level" yaml:"level"`
	Message    string                 `json:"message" yaml:"message"`
	Component  string                 `json:"component" yaml:"component"`
	PID        int64                  `json:"pid" yaml:"pid"`
	Hostname   string                 `json:"hostname" yaml:"hostname"`
	SessionID  string                 `json:"session_id" yaml:"session_id"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// RetentionPolicy defines log retention rules
type RetentionPolicy struct {
	MaxSessions int // Keep the last N session directories
	MaxAgeDays  int // Delete sessions older than this
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	BaseDir       string
	Component     string
	Level         LogLevel
	Retention     RetentionPolicy
	EnableJSON    bool
	EnableYAML    bool
	EnableConsole bool
}

// Logger writes entries to the session files and, optionally, the console.
type Logger struct {
	mu        sync.Mutex
	logger    *log.Logger
	logLevel  LogLevel
	logFile   *os.File
	jsonFile  *os.File
	yamlFile  *os.File
	config    LoggerConfig
	logDir    string
	hostname  string
	sessionID string
}

var (
	instance *Logger
	mu       sync.RWMutex
)

// DefaultRetentionPolicy returns the defaults used by the service.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxSessions: 20,
		MaxAgeDays:  30,
	}
}

// Init replaces the package-level logger. Call CloseLogger on shutdown.
func Init(cfg LoggerConfig) error {
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	old := instance
	instance = l
	mu.Unlock()
	if old != nil {
		old.close()
	}
	return nil
}

// UseWriter routes all logging to w without touching the filesystem. Used by the CLI and tests.
func UseWriter(w io.Writer, level LogLevel) {
	hostname, _ := os.Hostname()
	l := &Logger{
		logger:   log.New(w, "", 0),
		logLevel: level,
		hostname: hostname,
		config:   LoggerConfig{Component: "up2date"},
	}
	mu.Lock()
	old := instance
	instance = l
	mu.Unlock()
	if old != nil {
		old.close()
	}
}

func newLogger(cfg LoggerConfig) (*Logger, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("log base directory is empty")
	}
	if cfg.Component == "" {
		cfg.Component = "up2date"
	}
	if cfg.Retention.MaxSessions <= 0 && cfg.Retention.MaxAgeDays <= 0 {
		cfg.Retention = DefaultRetentionPolicy()
	}

	start := time.Now()
	logDir := filepath.Join(cfg.BaseDir, start.Format("2006-01-02-150405"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		config:    cfg,
		logLevel:  cfg.Level,
		logDir:    logDir,
		hostname:  hostname,
		sessionID: fmt.Sprintf("%s-%d", cfg.Component, start.Unix()),
	}
	if err := l.openFiles(); err != nil {
		l.close()
		return nil, err
	}

	if cfg.EnableConsole {
		l.logger = log.New(io.MultiWriter(os.Stdout, l.logFile), "", 0)
	} else {
		l.logger = log.New(l.logFile, "", 0)
	}

	l.pruneSessions(start)
	return l, nil
}

func (l *Logger) openFiles() error {
	var err error
	l.logFile, err = os.OpenFile(filepath.Join(l.logDir, "service.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open main log file: %w", err)
	}
	if l.config.EnableJSON {
		l.jsonFile, err = os.OpenFile(filepath.Join(l.logDir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open JSON log file: %w", err)
		}
	}
	if l.config.EnableYAML {
		l.yamlFile, err = os.OpenFile(filepath.Join(l.logDir, "events.yaml"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open YAML log file: %w", err)
		}
	}
	return nil
}

// pruneSessions removes session directories beyond the retention policy. Best effort.
func (l *Logger) pruneSessions(now time.Time) {
	entries, err := os.ReadDir(l.config.BaseDir)
	if err != nil {
		return
	}

	var sessions []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 17 && strings.Count(e.Name(), "-") == 3 {
			sessions = append(sessions, e.Name())
		}
	}
	// Newest first; the name format sorts chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(sessions)))

	current := filepath.Base(l.logDir)
	maxAge := time.Duration(l.config.Retention.MaxAgeDays) * 24 * time.Hour
	for i, name := range sessions {
		if name == current {
			continue
		}
		tooMany := l.config.Retention.MaxSessions > 0 && i >= l.config.Retention.MaxSessions
		tooOld := false
		if maxAge > 0 {
			if ts, err := time.ParseInLocation("2006-01-02-150405", name, time.Local); err == nil {
				tooOld = now.Sub(ts) > maxAge
			}
		}
		if tooMany || tooOld {
			os.RemoveAll(filepath.Join(l.config.BaseDir, name))
		}
	}
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range []**os.File{&l.logFile, &l.jsonFile, &l.yamlFile} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	mu.Lock()
	l := instance
	instance = nil
	mu.Unlock()
	if l != nil {
		l.close()
	}
}

// SetLevel changes the active log level.
func SetLevel(level LogLevel) {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l == nil {
		return
	}
	l.mu.Lock()
	l.logLevel = level
	l.mu.Unlock()
}

// CurrentLogDir returns the session directory, or "" when file logging is off.
func CurrentLogDir() string {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		return ""
	}
	return instance.logDir
}

func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.logLevel || l.logger == nil {
		return
	}

	properties := make(map[string]interface{})
	for i := 0; i+1 < len(keyValues); i += 2 {
		key := fmt.Sprintf("%v", keyValues[i])
		val := keyValues[i+1]
		if err, ok := val.(error); ok && err != nil {
			val = err.Error()
		}
		properties[key] = val
	}
	if len(properties) == 0 {
		properties = nil
	}

	now := time.Now()
	entry := LogEntry{
		Time:       now.Unix(),
		Timestamp:  now.Format(time.RFC3339),
		Level:      level.String(),
		Message:    message,
		Component:  l.config.Component,
		PID:        int64(os.Getpid()),
		Hostname:   l.hostname,
		SessionID:  l.sessionID,
		Properties: properties,
	}

	l.writeMainLog(entry, keyValues)
	if l.jsonFile != nil {
		if data, err := json.Marshal(entry); err == nil {
			l.jsonFile.Write(append(data, '\n'))
		}
	}
	if l.yamlFile != nil {
		if data, err := yaml.Marshal(entry); err == nil {
			l.yamlFile.WriteString("---\n" + string(data))
		}
	}
	if l.logFile != nil {
		l.logFile.Sync()
	}
}

func (l *Logger) writeMainLog(entry LogEntry, keyValues []interface{}) {
	ts := time.Unix(entry.Time, 0).Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s %s", ts, entry.Level, entry.Message)
	for i := 0; i+1 < len(keyValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyValues[i], keyValues[i+1])
	}
	l.logger.Println(b.String())
}

func logAt(level LogLevel, message string, keyValues ...interface{}) {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level.String(), message, keyValues)
		return
	}
	l.logMessage(level, message, keyValues...)
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	logAt(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	logAt(LevelDebug, message, keyValues...)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	logAt(LevelWarn, message, keyValues...)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	logAt(LevelError, message, keyValues...)
}
