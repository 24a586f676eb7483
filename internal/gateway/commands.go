package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datachannel"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/session"
)

var errNoCommands = errors.New("commands not available")

func (gw *Gateway) newRouter() *datachannel.Router {
	r := datachannel.NewRouter()

	r.Register(datachannel.TypeCommandMove, func(env datachannel.Envelope) error {
		cmd, err := datachannel.Decode[datachannel.CommandMove](env)
		if err != nil {
			return err
		}
		return gw.cmds.Move(cmd.Direction)
	})
	r.Register(datachannel.TypeCommandCapture, func(env datachannel.Envelope) error {
		cmd, err := datachannel.Decode[datachannel.CommandCapture](env)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return gw.cmds.Capture(ctx, cmd.Label, cmd.Depth)
	})
	r.Register(datachannel.TypeCommandSource, func(env datachannel.Envelope) error {
		cmd, err := datachannel.Decode[datachannel.CommandSource](env)
		if err != nil {
			return err
		}
		return gw.cmds.SwitchSource(cmd.Source, cmd.URL)
	})
	r.Register(datachannel.TypeCommandControl, func(env datachannel.Envelope) error {
		cmd, err := datachannel.Decode[datachannel.CommandControl](env)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return gw.cmds.SetControl(ctx, cmd.Var, cmd.Val)
	})

	return r
}

// handleMessage dispatches a viewer command and reports failures back on the
// same channel.
func (gw *Gateway) handleMessage(sess *session.Session, raw []byte) {
	if gw.cmds == nil {
		gw.sendError(sess, "", "unavailable", errNoCommands)
		return
	}
	env, err := gw.router.Dispatch(raw)
	if err != nil {
		gw.logger.Warn("viewer command failed",
			zap.String("session", sess.ID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		code := "command_failed"
		if errors.Is(err, datachannel.ErrUnknownType) || env.Type == "" {
			code = "bad_request"
		}
		gw.sendError(sess, env.ActionID, code, err)
		return
	}
	gw.logger.Debug("viewer command", zap.String("session", sess.ID), zap.String("type", env.Type))
}

func (gw *Gateway) sendError(sess *session.Session, actionID, code string, err error) {
	raw, encErr := datachannel.Encode(datachannel.TypeError, sess.ID, actionID, gw.clock.Now().UnixMilli(),
		datachannel.EventError{Code: code, Message: err.Error()})
	if encErr != nil {
		return
	}
	if err := sess.SendEnvelope(raw); err != nil {
		gw.logger.Debug("send error envelope", zap.String("session", sess.ID), zap.Error(err))
	}
}
