package rover

import (
	"sync"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

// Navigator executes detection guidance while the mission is autonomous.
// Each move is a pulse: the drive command followed by a stop.
type Navigator struct {
	mission      *Mission
	clock        clock.Clock
	forwardPulse time.Duration
	turnPulse    time.Duration

	mu   sync.Mutex
	stop clock.Timer
}

func NewNavigator(m *Mission, clk clock.Clock, forwardPulse, turnPulse time.Duration) *Navigator {
	if clk == nil {
		clk = clock.Real()
	}
	if forwardPulse <= 0 {
		forwardPulse = 500 * time.Millisecond
	}
	if turnPulse <= 0 {
		turnPulse = 300 * time.Millisecond
	}
	return &Navigator{mission: m, clock: clk, forwardPulse: forwardPulse, turnPulse: turnPulse}
}

// Apply acts on guidance. It reports whether a command was sent. The
// guidance message goes to the mission status line first.
func (n *Navigator) Apply(g *vision.Navigation) bool {
	if g == nil || !n.mission.Autonomous() {
		return false
	}
	n.mission.status("Navigation: " + g.Message)
	switch g.Action {
	case vision.ActionMoveForward:
		return n.pulse(Forward, n.forwardPulse)
	case vision.ActionTurnLeft:
		return n.pulse(Left, n.turnPulse)
	case vision.ActionTurnRight:
		return n.pulse(Right, n.turnPulse)
	}
	// continue_search and anything unknown leave the rover alone.
	return false
}

func (n *Navigator) pulse(direction string, d time.Duration) bool {
	if err := n.mission.Move(direction); err != nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop != nil {
		n.stop.Stop()
	}
	n.stop = n.clock.AfterFunc(d, func() { n.mission.Move(Stop) })
	return true
}

// Halt cancels a pending stop and stops the rover now.
func (n *Navigator) Halt() error {
	n.mu.Lock()
	if n.stop != nil {
		n.stop.Stop()
		n.stop = nil
	}
	n.mu.Unlock()
	return n.mission.Move(Stop)
}
