// Package gateway serves the camera feed to browser viewers over WebRTC.
// Each viewer gets a peer connection with a single "rover" data channel:
// frames travel as binary messages, status and results as JSON envelopes,
// and viewers send rover commands back the same way.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datachannel"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/session"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/view"
)

const (
	iceGatherTimeout = 10 * time.Second
	commandTimeout   = 30 * time.Second
	channelLabel     = "rover"
)

var (
	ErrCapacity        = errors.New("max viewers reached")
	ErrSessionNotFound = errors.New("session not found")
)

// Commands is what viewers may ask of the console.
type Commands interface {
	Move(direction string) error
	Capture(ctx context.Context, label string, depth float64) error
	SwitchSource(source, url string) error
	SetControl(ctx context.Context, name string, value int) error
}

type Config struct {
	STUNServers []string
	// MaxViewers caps concurrent sessions; zero means no limit.
	MaxViewers    int
	MaxFrameBytes int
}

// Gateway manages viewer peer connections. It is a view.View: everything
// rendered to it is fanned out to every open session.
type Gateway struct {
	cfg    Config
	api    *webrtc.API
	logger *zap.Logger
	clock  clock.Clock
	cmds   Commands
	router *datachannel.Router

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

var _ view.View = (*Gateway)(nil)

// New creates a Gateway with default codecs and a NACK responder registered.
func New(cfg Config, cmds Commands, logger *zap.Logger) (*Gateway, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	ir.Add(responder)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	)
	return newGateway(cfg, api, cmds, logger), nil
}

// NewForTest creates a Gateway without a WebRTC API. Sessions can only be
// added through the package internals.
func NewForTest(cfg Config, cmds Commands, logger *zap.Logger) *Gateway {
	return newGateway(cfg, nil, cmds, logger)
}

func newGateway(cfg Config, api *webrtc.API, cmds Commands, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	gw := &Gateway{
		cfg:      cfg,
		api:      api,
		logger:   logger.With(zap.String("component", "gateway")),
		clock:    clock.Real(),
		cmds:     cmds,
		sessions: make(map[string]*session.Session),
	}
	gw.router = gw.newRouter()
	return gw
}

// SessionCount returns the current number of viewer sessions.
func (gw *Gateway) SessionCount() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return len(gw.sessions)
}

// ICEServers returns the configured STUN servers.
func (gw *Gateway) ICEServers() []webrtc.ICEServer {
	if len(gw.cfg.STUNServers) == 0 {
		return nil
	}
	urls := make([]string, len(gw.cfg.STUNServers))
	copy(urls, gw.cfg.STUNServers)
	return []webrtc.ICEServer{{URLs: urls}}
}

// CreateSession builds a peer connection with the rover data channel and
// returns the gathered SDP offer.
func (gw *Gateway) CreateSession(id string) (string, error) {
	if gw.full() {
		metrics.SessionsRejectedTotal.Inc()
		gw.logger.Warn("viewer cap reached", zap.Int("max", gw.cfg.MaxViewers))
		return "", ErrCapacity
	}
	if gw.api == nil {
		return "", errors.New("gateway has no webrtc api")
	}
	logger := gw.logger.With(zap.String("session", id))

	pc, err := gw.api.NewPeerConnection(webrtc.Configuration{ICEServers: gw.ICEServers()})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create data channel: %w", err)
	}

	sess := session.New(id, pc, dc, gw.cfg.MaxFrameBytes, gw.logger)

	dc.OnOpen(func() {
		logger.Info("data channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			gw.handleMessage(sess, msg.Data)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Info("ICE state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateClosed:
			go gw.DeleteSession(id)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		logger.Warn("ICE gathering timed out, using partial candidates")
	}

	if err := gw.addSession(sess); err != nil {
		sess.Stop()
		return "", err
	}
	metrics.SessionsCreatedTotal.Inc()
	logger.Info("viewer session created")

	return pc.LocalDescription().SDP, nil
}

func (gw *Gateway) full() bool {
	return gw.cfg.MaxViewers > 0 && gw.SessionCount() >= gw.cfg.MaxViewers
}

// addSession registers sess, rechecking the cap under the lock since
// gathering ran unlocked.
func (gw *Gateway) addSession(sess *session.Session) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.cfg.MaxViewers > 0 && len(gw.sessions) >= gw.cfg.MaxViewers {
		metrics.SessionsRejectedTotal.Inc()
		return ErrCapacity
	}
	gw.sessions[sess.ID] = sess
	metrics.ActiveViewers.WithLabelValues("webrtc").Inc()
	return nil
}

// SetAnswer applies the viewer's SDP answer to its session.
func (gw *Gateway) SetAnswer(id, sdpAnswer string) error {
	gw.mu.RLock()
	sess, ok := gw.sessions[id]
	gw.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return sess.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
}

// DeleteSession tears down a session and removes it from the registry.
func (gw *Gateway) DeleteSession(id string) {
	gw.mu.Lock()
	sess, ok := gw.sessions[id]
	if ok {
		delete(gw.sessions, id)
	}
	gw.mu.Unlock()

	if ok && sess != nil {
		sess.Stop()
		metrics.ActiveViewers.WithLabelValues("webrtc").Dec()
		gw.logger.Info("session deleted", zap.String("session", id))
	}
}

// Shutdown stops all sessions.
func (gw *Gateway) Shutdown() {
	gw.mu.Lock()
	sessions := gw.sessions
	gw.sessions = make(map[string]*session.Session)
	gw.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	metrics.ActiveViewers.WithLabelValues("webrtc").Set(0)

	gw.logger.Info("gateway shutdown complete")
}

func (gw *Gateway) snapshot() []*session.Session {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	out := make([]*session.Session, 0, len(gw.sessions))
	for _, s := range gw.sessions {
		out = append(out, s)
	}
	return out
}

func (gw *Gateway) RenderFrame(frame []byte) {
	for _, s := range gw.snapshot() {
		s.SendFrame(frame)
	}
}

func (gw *Gateway) SetStatus(text string) {
	now := gw.clock.Now().UnixMilli()
	gw.broadcast(datachannel.TypeEventStatus, datachannel.EventStatus{Text: text, At: now})
}

func (gw *Gateway) RenderResults(r view.Results) {
	if r.Clear {
		gw.broadcast(datachannel.TypeEventClear, datachannel.EventClear{Kind: r.Kind, Session: r.Session})
		return
	}
	gw.broadcast(datachannel.TypeEventResults, r)
}

func (gw *Gateway) SetState(s stream.State) {
	gw.broadcast(datachannel.TypeEventState, datachannel.EventState{State: s.String()})
}

func (gw *Gateway) broadcast(msgType string, payload any) {
	sessions := gw.snapshot()
	if len(sessions) == 0 {
		return
	}
	raw, err := datachannel.Encode(msgType, "", "", gw.clock.Now().UnixMilli(), payload)
	if err != nil {
		gw.logger.Error("encode event", zap.String("type", msgType), zap.Error(err))
		return
	}
	for _, s := range sessions {
		// Sessions whose channel is not open yet simply miss the event.
		_ = s.SendEnvelope(raw)
	}
}
