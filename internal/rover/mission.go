// Package rover tracks the balloon mission and turns operator actions and
// detection guidance into rover commands.
package rover

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/camera"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/ringbuffer"
)

var (
	ErrUnknownAction    = errors.New("unknown mission action")
	ErrInvalidDirection = errors.New("invalid move direction")
)

// Sender delivers a command to the rover. camera.CommandChannel implements it.
type Sender interface {
	Send(command string, value any, extra map[string]any) error
}

// Mission actions accepted by Do.
const (
	ActionAutonomous    = "autonomous"
	ActionStart         = "start"
	ActionSweep         = "sweep"
	ActionReset         = "reset"
	ActionAbort         = "abort"
	ActionEmergencyStop = "emergency-stop"
)

// Move directions.
const (
	Forward  = "forward"
	Backward = "backward"
	Left     = "left"
	Right    = "right"
	Stop     = "stop"
)

var balloonSequence = []string{"BLACK", "WHITE", "PINK", "YELLOW", "BLUE"}

// BalloonName returns the colour of balloon i, or COMPLETE past the end.
func BalloonName(i int) string {
	if i >= 0 && i < len(balloonSequence) {
		return balloonSequence[i]
	}
	return "COMPLETE"
}

// State is a snapshot of the mission.
type State struct {
	Autonomous     bool   `json:"autonomous"`
	Sweeping       bool   `json:"sweeping"`
	CurrentBalloon int    `json:"currentBalloon"`
	Target         string `json:"target"`
	MissionStatus  string `json:"missionStatus,omitempty"`
	TargetInfo     string `json:"targetInfo,omitempty"`

	// Log is the operator mission log, oldest first.
	Log []LogEntry `json:"log,omitempty"`
}

// Mission holds the operator-side mission state. The rover is authoritative
// for the balloon index and reports it through HandleUpdate.
type Mission struct {
	sender   Sender
	logger   *zap.Logger
	status   func(string)
	onChange func(State)
	clock    clock.Clock
	backup   BackupStore
	log      *ringbuffer.RingBuffer[LogEntry]

	mu    sync.Mutex
	state State
}

func NewMission(sender Sender, logger *zap.Logger, status func(string), onChange func(State), opts ...Option) *Mission {
	if logger == nil {
		logger = zap.NewNop()
	}
	if status == nil {
		status = func(string) {}
	}
	m := &Mission{
		sender:   sender,
		logger:   logger,
		status:   status,
		onChange: onChange,
		clock:    clock.Real(),
		log:      ringbuffer.New[LogEntry](MissionLogSize),
		state:    State{Target: BalloonName(0)},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	return m
}

func (m *Mission) State() State {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()
	s.Log = m.Log()
	return s
}

// Autonomous reports whether detection guidance should drive the rover.
func (m *Mission) Autonomous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Autonomous
}

// Do runs one of the mission actions.
func (m *Mission) Do(action string) error {
	switch action {
	case ActionAutonomous:
		return m.ToggleAutonomous()
	case ActionStart:
		return m.StartMission()
	case ActionSweep:
		return m.ToggleSweep()
	case ActionReset:
		return m.ResetSequence()
	case ActionAbort:
		return m.Abort()
	case ActionEmergencyStop:
		return m.EmergencyStop()
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

func (m *Mission) ToggleAutonomous() error {
	m.mu.Lock()
	next := !m.state.Autonomous
	m.mu.Unlock()
	if err := m.send("autonomous", fmt.Sprint(next)); err != nil {
		return err
	}
	m.update(func(s *State) { s.Autonomous = next })
	m.status("Autonomous mode: " + onOff(next))
	return nil
}

func (m *Mission) StartMission() error {
	if err := m.send("startTask", "true"); err != nil {
		return err
	}
	m.status("Mission sequence initiated")
	return nil
}

func (m *Mission) ToggleSweep() error {
	if err := m.send("sweepMode", "toggle"); err != nil {
		return err
	}
	var on bool
	m.update(func(s *State) {
		s.Sweeping = !s.Sweeping
		on = s.Sweeping
	})
	m.status("Sweep mode: " + onOff(on))
	return nil
}

func (m *Mission) ResetSequence() error {
	if err := m.send("resetSequence", "true"); err != nil {
		return err
	}
	m.update(func(s *State) {
		s.CurrentBalloon = 0
		s.Target = BalloonName(0)
	})
	m.status("Mission sequence reset")
	return nil
}

// Abort and EmergencyStop always leave autonomous mode, even when the
// command cannot be delivered.
func (m *Mission) Abort() error {
	err := m.send("abortMission", "true")
	m.update(func(s *State) { s.Autonomous = false })
	m.status("Mission aborted")
	return err
}

func (m *Mission) EmergencyStop() error {
	err := m.send("emergencyStop", "true")
	m.update(func(s *State) { s.Autonomous = false })
	m.status("EMERGENCY STOP ACTIVATED")
	m.logger.Warn("emergency stop")
	return err
}

// Move sends a manual drive command.
func (m *Mission) Move(direction string) error {
	switch direction {
	case Forward, Backward, Left, Right, Stop:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
	return m.send("move", direction)
}

// Send forwards an arbitrary operator command.
func (m *Mission) Send(command string, value any) error {
	if command == "" {
		return errors.New("command required")
	}
	return m.send(command, value)
}

// HandleUpdate merges a mission report from the rover.
func (m *Mission) HandleUpdate(u camera.MissionUpdate) {
	var balloonChanged bool
	var target string
	m.update(func(s *State) {
		if u.MissionStatus != "" {
			s.MissionStatus = u.MissionStatus
		}
		if u.CurrentBalloon != nil {
			balloonChanged = s.CurrentBalloon != *u.CurrentBalloon
			s.CurrentBalloon = *u.CurrentBalloon
			s.Target = BalloonName(s.CurrentBalloon)
			target = s.Target
		}
		if u.TargetInfo != "" {
			s.TargetInfo = u.TargetInfo
		}
	})
	if balloonChanged {
		m.status("BALLOON SEQUENCE - " + target)
	}
}

func (m *Mission) send(command string, value any) error {
	if m.sender == nil {
		return camera.ErrNotConnected
	}
	if err := m.sender.Send(command, value, nil); err != nil {
		m.logger.Warn("rover command failed", zap.String("command", command), zap.Error(err))
		return err
	}
	m.logger.Debug("rover command sent", zap.String("command", command), zap.Any("value", value))
	return nil
}

func (m *Mission) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	s := m.state
	m.mu.Unlock()
	if m.onChange != nil {
		s.Log = m.Log()
		m.onChange(s)
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
