package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEntry is one appended record in the usage log.
type LogEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	SessionID       string    `json:"session_id,omitempty"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	CacheReadTokens int       `json:"cache_read_tokens,omitempty"`
	Rounds          int       `json:"rounds,omitempty"`
	ToolCalls       int       `json:"tool_calls,omitempty"`
}

// Logger appends usage entries to a JSONL file. Failures are silent;
// usage accounting must never break a turn.
type Logger struct {
	mu   sync.Mutex
	path string
}

// NewLogger creates a logger writing to the given path.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// DefaultLogger returns the shared logger under the XDG data dir.
func DefaultLogger() *Logger {
	defaultLoggerOnce.Do(func() {
		dir := os.Getenv("XDG_DATA_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				defaultLogger = &Logger{}
				return
			}
			dir = filepath.Join(home, ".local", "share")
		}
		defaultLogger = NewLogger(filepath.Join(dir, "gptsh", "usage.jsonl"))
	})
	return defaultLogger
}

// Log appends one entry. A logger with no path drops entries.
func (l *Logger) Log(entry LogEntry) error {
	if l == nil || l.path == "" {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
