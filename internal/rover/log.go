package rover

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
)

const (
	// MissionLogSize is how many operator log entries are kept.
	MissionLogSize = 20
	// BackupMaxAge is the oldest backup restored at start-up.
	BackupMaxAge = 24 * time.Hour
)

var ErrEmptyLog = errors.New("log text is required")

// LogEntry is one operator note.
type LogEntry struct {
	Timestamp string    `json:"timestamp"`
	Text      string    `json:"text"`
	Date      time.Time `json:"date"`
}

// Backup is the persisted mission log together with the mission state.
type Backup struct {
	Logs      []LogEntry `json:"logs"`
	Timestamp time.Time  `json:"timestamp"`
	Mission   State      `json:"missionState"`
}

// BackupStore persists the mission log across restarts.
type BackupStore interface {
	Save(Backup) error
	Load() (Backup, error)
}

// FileBackup keeps the backup as a JSON file, replaced atomically.
type FileBackup struct {
	Path string
}

func (f FileBackup) Save(b Backup) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".mission-*.tmp")
	if err != nil {
		return fmt.Errorf("mission backup: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("mission backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mission backup: %w", err)
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Load returns the stored backup. A missing file is an empty backup.
func (f FileBackup) Load() (Backup, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Backup{}, nil
	}
	if err != nil {
		return Backup{}, fmt.Errorf("mission backup: %w", err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return Backup{}, fmt.Errorf("mission backup %s: %w", f.Path, err)
	}
	return b, nil
}

type Option func(*Mission)

func WithClock(c clock.Clock) Option {
	return func(m *Mission) { m.clock = c }
}

// WithBackup restores a recent backup and saves one on every log entry.
func WithBackup(store BackupStore) Option {
	return func(m *Mission) { m.backup = store }
}

// AddLog records an operator note.
func (m *Mission) AddLog(text string) (LogEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return LogEntry{}, ErrEmptyLog
	}
	now := m.clock.Now()
	e := LogEntry{Timestamp: now.Format("15:04:05"), Text: text, Date: now.UTC()}
	m.log.Write(e)

	m.status("Mission log updated")
	m.saveBackup(now)
	m.update(func(*State) {})
	return e, nil
}

// Log returns the kept entries, oldest first.
func (m *Mission) Log() []LogEntry {
	return m.log.Snapshot(0)
}

func (m *Mission) saveBackup(now time.Time) {
	if m.backup == nil {
		return
	}
	st := m.State()
	st.Log = nil
	b := Backup{Logs: m.Log(), Timestamp: now, Mission: st}
	if err := m.backup.Save(b); err != nil {
		m.logger.Warn("could not save mission log backup", zap.Error(err))
	}
}

// restore loads a backup younger than BackupMaxAge. Autonomous mode is not
// restored: the operator has to enable it again.
func (m *Mission) restore() {
	if m.backup == nil {
		return
	}
	b, err := m.backup.Load()
	if err != nil {
		m.logger.Warn("could not load mission log backup", zap.Error(err))
		return
	}
	if b.Timestamp.IsZero() || m.clock.Now().Sub(b.Timestamp) >= BackupMaxAge {
		return
	}
	m.log.Write(b.Logs...)
	m.mu.Lock()
	autonomous := m.state.Autonomous
	m.state = b.Mission
	m.state.Autonomous = autonomous
	m.state.Log = nil
	if m.state.Target == "" {
		m.state.Target = BalloonName(m.state.CurrentBalloon)
	}
	m.mu.Unlock()
	m.logger.Info("mission log restored", zap.Int("entries", len(b.Logs)), zap.Time("saved", b.Timestamp))
}
