package datachannel

import (
	"errors"
	"testing"
)

func TestRouterDispatch(t *testing.T) {
	r := NewRouter()
	var got CommandMove
	r.Register(TypeCommandMove, func(env Envelope) error {
		var err error
		got, err = Decode[CommandMove](env)
		return err
	})

	raw, err := Encode(TypeCommandMove, "s1", "a1", 42, CommandMove{Direction: "left"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := r.Dispatch(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Direction != "left" || env.SessionID != "s1" || env.ActionID != "a1" || env.Timestamp != 42 {
		t.Errorf("env = %+v move = %+v", env, got)
	}
}

func TestRouterErrors(t *testing.T) {
	r := NewRouter()
	r.Register(TypeCommandCapture, func(env Envelope) error {
		_, err := Decode[CommandCapture](env)
		return err
	})

	if _, err := r.Dispatch([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
	env, err := r.Dispatch([]byte(`{"type":"command.fly","actionId":"x"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v", err)
	}
	if env.ActionID != "x" {
		t.Errorf("action id lost: %+v", env)
	}
	if _, err := r.Dispatch([]byte(`{"type":"command.capture"}`)); err == nil {
		t.Error("expected empty payload error")
	}
}
