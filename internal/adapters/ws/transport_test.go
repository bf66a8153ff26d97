package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

// janusServer answers create, keepalive and destroy. Any attach makes it
// drop the connection.
type janusServer struct {
	subprotocol atomic.Value
	keepalives  atomic.Int32
}

func (j *janusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	j.subprotocol.Store(conn.Subprotocol())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		var reply *protocol.Envelope
		switch req.Janus {
		case protocol.KindCreate:
			reply = &protocol.Envelope{Janus: protocol.KindSuccess, Transaction: req.Transaction, Data: &protocol.IDData{ID: 4242}}
		case protocol.KindKeepalive:
			j.keepalives.Add(1)
			reply = &protocol.Envelope{Janus: protocol.KindAck, Transaction: req.Transaction, SessionID: req.SessionID}
		case protocol.KindDestroy:
			reply = &protocol.Envelope{Janus: protocol.KindSuccess, Transaction: req.Transaction, SessionID: req.SessionID}
		case protocol.KindAttach:
			return
		default:
			continue
		}
		out, _ := json.Marshal(reply)
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func serve(t *testing.T) (*janusServer, string) {
	t.Helper()
	j := &janusServer{}
	ts := httptest.NewServer(j)
	t.Cleanup(ts.Close)
	return j, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestTransport_RoundTrip(t *testing.T) {
	j, url := serve(t)

	tr, err := NewDialer(Options{}).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	got := make(chan *protocol.Envelope, 1)
	tr.OnMessage(func(env *protocol.Envelope) { got <- env })

	if err := tr.Send(context.Background(), protocol.NewCreate("tx-1", protocol.Credentials{})); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case env := <-got:
		if env.Janus != protocol.KindSuccess || env.Transaction != "tx-1" || env.Data.ID != 4242 {
			t.Fatalf("reply=%+v", env)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply")
	}
	if p, _ := j.subprotocol.Load().(string); p != Subprotocol {
		t.Fatalf("subprotocol=%q", p)
	}
}

func TestTransport_ServerDropReportsLoss(t *testing.T) {
	_, url := serve(t)

	tr, err := NewDialer(Options{}).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	lost := make(chan error, 1)
	tr.OnMessage(func(*protocol.Envelope) {})
	tr.OnClose(func(err error) { lost <- err })

	p, _ := domain.NewPlugin("janus.plugin.echotest", "")
	if err := tr.Send(context.Background(), protocol.NewAttach("tx-2", 1, p, protocol.Credentials{})); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case err := <-lost:
		if err == nil {
			t.Fatalf("loss reported without error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("loss not reported")
	}
	if err := tr.Send(context.Background(), protocol.NewKeepalive("tx-3", 1, protocol.Credentials{})); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after loss: err=%v", err)
	}
}

func TestTransport_CloseIsQuiet(t *testing.T) {
	_, url := serve(t)

	tr, err := NewDialer(Options{}).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var reported atomic.Bool
	tr.OnMessage(func(*protocol.Envelope) {})
	tr.OnClose(func(error) { reported.Store(true) })

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = tr.Close()
	tr.(*Transport).Wait()
	if reported.Load() {
		t.Fatalf("close reported as loss")
	}
}

func TestDial_Unreachable(t *testing.T) {
	_, err := NewDialer(Options{HandshakeTimeout: time.Second}).Dial(context.Background(), "ws://127.0.0.1:1")
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("err=%v", err)
	}
}

func TestSessionOverWebSocket(t *testing.T) {
	j, url := serve(t)

	s, err := session.Create(context.Background(), session.Options{
		Servers:         []string{"ws://127.0.0.1:1", url},
		Dialer:          NewDialer(Options{HandshakeTimeout: time.Second}),
		KeepalivePeriod: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID() != 4242 || s.Server() != url {
		t.Fatalf("id=%d server=%s", s.ID(), s.Server())
	}

	deadline := time.Now().Add(3 * time.Second)
	for j.keepalives.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if j.keepalives.Load() < 2 {
		t.Fatalf("keepalives=%d", j.keepalives.Load())
	}

	if err := s.Destroy(context.Background(), session.DestroyOptions{}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if s.IsConnected() {
		t.Fatalf("still connected after destroy")
	}
}
