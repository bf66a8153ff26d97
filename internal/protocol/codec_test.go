package protocol

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/domain"
)

func TestDecode_SuccessWithPluginData(t *testing.T) {
	raw := []byte(`{
		"janus":"success",
		"session_id":11,
		"transaction":"T1",
		"sender":22,
		"plugindata":{"plugin":"janus.plugin.streaming","data":{"streaming":"list","list":[]}}
	}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Janus != KindSuccess || env.Transaction != "T1" || env.SessionID != 11 {
		t.Fatalf("unexpected envelope: %#v", env)
	}
	if env.HandleRef() != 22 {
		t.Fatalf("HandleRef=%d, want 22", env.HandleRef())
	}
	if env.PluginData == nil || env.PluginData.Plugin != "janus.plugin.streaming" {
		t.Fatalf("unexpected plugindata: %#v", env.PluginData)
	}
}

func TestDecode_HandleRefFallsBackToHandleID(t *testing.T) {
	env, err := Decode([]byte(`{"janus":"webrtcup","session_id":1,"handle_id":5}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.HandleRef() != 5 {
		t.Fatalf("HandleRef=%d, want 5", env.HandleRef())
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"janus":`,
		"missing kind":      `{"transaction":"x"}`,
		"success no tx":     `{"janus":"success"}`,
		"error no payload":  `{"janus":"error","transaction":"x"}`,
		"event no data":     `{"janus":"event","sender":1}`,
		"trickle no cand":   `{"janus":"trickle","sender":1}`,
		"bad jsep type":     `{"janus":"event","sender":1,"jsep":{"type":"pranswer","sdp":"v=0"}}`,
		"trailing document": `{"janus":"ack","transaction":"x"} {}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, domain.ErrProtocol) {
			t.Errorf("%s: err=%v, want ErrProtocol", name, err)
		}
	}
}

func TestDecodeBatch_ArrayAndSingle(t *testing.T) {
	envs, err := DecodeBatch([]byte(`[{"janus":"keepalive"},{"janus":"webrtcup","sender":3}]`))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(envs) != 2 || envs[1].Sender != 3 {
		t.Fatalf("unexpected batch: %#v", envs)
	}

	envs, err = DecodeBatch([]byte(` {"janus":"keepalive"} `))
	if err != nil || len(envs) != 1 {
		t.Fatalf("single: envs=%v err=%v", envs, err)
	}

	envs, err = DecodeBatch(nil)
	if err != nil || len(envs) != 0 {
		t.Fatalf("empty: envs=%v err=%v", envs, err)
	}
}

func TestGatewayError(t *testing.T) {
	env, err := Decode([]byte(`{"janus":"error","transaction":"x","error":{"code":460,"reason":"No such plugin"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gwErr := env.GatewayError()
	if gwErr == nil || gwErr.Code != 460 || gwErr.Reason != "No such plugin" {
		t.Fatalf("unexpected gateway error: %#v", gwErr)
	}
	if (&Envelope{Janus: KindSuccess}).GatewayError() != nil {
		t.Fatalf("success must not convert to an error")
	}
}

func TestNewMessage_EncodesBodyAndJSEP(t *testing.T) {
	env, err := NewMessage("T9", 1, 2, map[string]any{"request": "list"}, &domain.JSEP{Type: "offer", SDP: "v=0"}, Credentials{Token: "tok"})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if generic["janus"] != "message" || generic["transaction"] != "T9" || generic["token"] != "tok" {
		t.Fatalf("unexpected wire form: %s", b)
	}
	if generic["handle_id"].(float64) != 2 || generic["session_id"].(float64) != 1 {
		t.Fatalf("ids missing: %s", b)
	}
	body := generic["body"].(map[string]any)
	if body["request"] != "list" {
		t.Fatalf("body=%v", body)
	}
	if _, ok := generic["apisecret"]; ok {
		t.Fatalf("empty apisecret must be omitted: %s", b)
	}
}

func TestNewMessage_RejectsInvalidRawBody(t *testing.T) {
	if _, err := NewMessage("T", 1, 2, []byte("{nope"), nil, Credentials{}); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("err=%v, want ErrProtocol", err)
	}
}

func TestNewTrickle_NilIsCompleted(t *testing.T) {
	env := NewTrickle("T", 1, 2, nil, Credentials{})
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b) != `{"janus":"trickle","transaction":"T","session_id":1,"handle_id":2,"candidate":{"completed":true}}` {
		t.Fatalf("unexpected wire form: %s", b)
	}
}

func TestPluginError(t *testing.T) {
	gw := PluginError(json.RawMessage(`{"streaming":"event","error_code":455,"error":"No such mountpoint"}`))
	if gw == nil || gw.Code != 455 || gw.Reason != "No such mountpoint" {
		t.Fatalf("plugin error = %#v", gw)
	}
	if PluginError(json.RawMessage(`{"streaming":"list","list":[]}`)) != nil {
		t.Fatalf("payload without error_code reported an error")
	}
	if PluginError(nil) != nil {
		t.Fatalf("empty payload reported an error")
	}
}
