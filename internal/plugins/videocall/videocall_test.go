package videocall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/mock/gomock"

	"github.com/marekhoryna/janus-client/internal/app/negotiation"
	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/core/mocks"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/gatewaytest"
)

func newSession(t *testing.T, gw *gatewaytest.Gateway, factory core.MediaEngineFactory) *session.Session {
	t.Helper()
	s, err := session.Create(context.Background(), session.Options{
		Servers:            []string{"ws://gateway"},
		Dialer:             gw,
		KeepalivePeriod:    time.Hour,
		TransactionTimeout: 2 * time.Second,
		DisableTrickle:     true,
		MediaFactory:       factory,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = s.Destroy(context.Background(), session.DestroyOptions{}) })
	return s
}

func engine(ctrl *gomock.Controller) *mocks.MockMediaEngine {
	m := mocks.NewMockMediaEngine(ctrl)
	m.EXPECT().OnICECandidate(gomock.Any()).AnyTimes()
	m.EXPECT().OnRemoteTrack(gomock.Any()).AnyTimes()
	m.EXPECT().OnLocalTrack(gomock.Any()).AnyTimes()
	m.EXPECT().OnData(gomock.Any()).AnyTimes()
	m.EXPECT().OnDataOpen(gomock.Any()).AnyTimes()
	return m
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(json.RawMessage(`{"videocall":"event","result":{"event":"incomingcall","username":"alice"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventIncomingCall || ev.Username != "alice" {
		t.Fatalf("event=%#v", ev)
	}

	_, err = ParseEvent(json.RawMessage(`{"videocall":"event","error_code":478,"error":"No such username"}`))
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != 478 {
		t.Fatalf("err=%v", err)
	}

	if _, err := ParseEvent(json.RawMessage(`{"videocall":"event"}`)); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("missing result: err=%v", err)
	}
}

func TestRegisterAndList(t *testing.T) {
	gw := gatewaytest.New()
	gw.HandlePlugin(PluginName, gatewaytest.VideoCallPlugin())
	s := newSession(t, gw, nil)
	ctx := context.Background()

	alice, err := Attach(ctx, s, session.HandleCallbacks{})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	bob, err := Attach(ctx, s, session.HandleCallbacks{})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := alice.Register(ctx, "alice"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	err = bob.Register(ctx, "alice")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != 476 {
		t.Fatalf("duplicate username: err=%v", err)
	}
	if err := bob.Register(ctx, "bob"); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	list, err := alice.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list=%v", list)
	}
}

func TestCallAccepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := engine(ctrl)
	gomock.InOrder(
		m.EXPECT().CreateLocalDescription(gomock.Any(), domain.RoleOfferer, domain.SendRecv(), false).
			Return(*gatewaytest.Offer(), nil),
		m.EXPECT().ApplyRemoteDescription(*gatewaytest.Answer()).Return(nil),
		m.EXPECT().Close().Return(nil),
	)

	gw := gatewaytest.New()
	gw.HandlePlugin(PluginName, gatewaytest.VideoCallPlugin())
	s := newSession(t, gw, func(domain.HandleID) (core.MediaEngine, error) { return m, nil })
	ctx := context.Background()

	events := make(chan *Event, 4)
	c, err := Attach(ctx, s, session.HandleCallbacks{
		OnMessage: func(r *session.Reply) {
			if ev, err := ParseEvent(r.Data); err == nil {
				events <- ev
			}
		},
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := c.Register(ctx, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Call(ctx, "bob", domain.SendRecv()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if st := c.Handle().State(); st != negotiation.OfferSent {
		t.Fatalf("state after call=%s", st)
	}

	accepted := map[string]any{"videocall": "event", "result": map[string]string{"event": "accepted", "username": "bob"}}
	if err := gw.PushEvent(c.Handle().ID(), accepted, gatewaytest.Answer()); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind != EventAccepted || ev.Username != "bob" {
			t.Fatalf("event=%#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("accepted event not delivered")
	}
	if st := c.Handle().State(); st != negotiation.Negotiated {
		t.Fatalf("state after accepted=%s", st)
	}

	if err := c.Set(ctx, SetOptions{Bitrate: 256000}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Hangup(ctx); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if st := c.Handle().State(); st != negotiation.Idle {
		t.Fatalf("state after hangup=%s", st)
	}
}

func TestAcceptIncomingCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := engine(ctrl)
	gomock.InOrder(
		m.EXPECT().ApplyRemoteDescription(*gatewaytest.Offer()).Return(nil),
		m.EXPECT().CreateLocalDescription(gomock.Any(), domain.RoleAnswerer, domain.SendRecv(), false).
			Return(*gatewaytest.Answer(), nil),
		m.EXPECT().Close().Return(nil),
	)

	gw := gatewaytest.New()
	gw.HandlePlugin(PluginName, gatewaytest.VideoCallPlugin())
	s := newSession(t, gw, func(domain.HandleID) (core.MediaEngine, error) { return m, nil })
	ctx := context.Background()

	incoming := make(chan *Event, 1)
	c, err := Attach(ctx, s, session.HandleCallbacks{
		OnMessage: func(r *session.Reply) {
			if ev, err := ParseEvent(r.Data); err == nil && ev.Kind == EventIncomingCall && r.JSEP.IsOffer() {
				incoming <- ev
			}
		},
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	call := map[string]any{"videocall": "event", "result": map[string]string{"event": "incomingcall", "username": "bob"}}
	if err := gw.PushEvent(c.Handle().ID(), call, gatewaytest.Offer()); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case ev := <-incoming:
		if ev.Username != "bob" {
			t.Fatalf("caller=%q", ev.Username)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("incoming call not delivered")
	}

	if err := c.Accept(ctx, domain.SendRecv()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if st := c.Handle().State(); st != negotiation.Negotiated {
		t.Fatalf("state=%s", st)
	}
}
