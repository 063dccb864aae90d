package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"leak-sentinel/internal/heapstat"
	"leak-sentinel/internal/leakcheck"
)

// Logger appends measurement events as NDJSON, one file per day.
type Logger struct {
	logDir string
	mu     sync.Mutex
	file   *os.File
	date   string
}

type LogEntry struct {
	Timestamp string                  `json:"timestamp"`
	Type      string                  `json:"type"`
	Phase     string                  `json:"phase"`
	Memory    *heapstat.ProcessMemory `json:"memory,omitempty"`
	Objects   map[string]int64        `json:"objects,omitempty"`
	Severity  string                  `json:"severity,omitempty"`
	Reasons   []string                `json:"reasons,omitempty"`
}

func NewLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	logger := &Logger{logDir: logDir}
	if err := logger.rotateIfNeeded(); err != nil {
		return nil, err
	}

	return logger, nil
}

// LogSnapshot records one captured snapshot. Phase is baseline,
// post_load, or delayed.
func (l *Logger) LogSnapshot(phase string, snap heapstat.Snapshot) error {
	entry := LogEntry{
		Timestamp: snap.Timestamp.Format(time.RFC3339),
		Type:      "snapshot",
		Phase:     phase,
		Memory:    &snap.Process,
	}
	return l.log(entry)
}

// LogClassification records a classified delta. Phase is burst or
// settle.
func (l *Logger) LogClassification(phase string, d leakcheck.DeltaReport, cls leakcheck.Classification) error {
	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Type:      "delta",
		Phase:     phase,
		Objects:   d.Objects,
		Severity:  cls.Overall.String(),
	}
	for _, f := range cls.Findings {
		entry.Reasons = append(entry.Reasons, f.Reason)
	}
	return l.log(entry)
}

func (l *Logger) log(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}

	return nil
}

func (l *Logger) rotateIfNeeded() error {
	now := time.Now().UTC()
	currentDate := now.Format("2006-01-02")

	if l.file != nil && l.date == currentDate {
		return nil
	}

	if l.file != nil {
		l.file.Close()
	}

	filename := filepath.Join(l.logDir, fmt.Sprintf("measurements-%s.ndjson", currentDate))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.date = currentDate
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
