package gatewaytest

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/domain"
)

// SDP is a minimal audio+video description accepted by the client's
// validation.
const SDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func Offer() *domain.JSEP  { return &domain.JSEP{Type: domain.SDPTypeOffer, SDP: SDP} }
func Answer() *domain.JSEP { return &domain.JSEP{Type: domain.SDPTypeAnswer, SDP: SDP} }

type request struct {
	Request  string `json:"request"`
	ID       any    `json:"id"`
	Username string `json:"username"`
	Bitrate  int    `json:"bitrate"`
}

func decodeRequest(body json.RawMessage) request {
	var r request
	_ = json.Unmarshal(body, &r)
	return r
}

func pluginFailure(plugin string, code int, reason string) PluginReply {
	return PluginReply{Data: map[string]any{plugin: "event", "error_code": code, "error": reason}}
}

// Mountpoint is a stream served by the fake streaming plugin.
type Mountpoint struct {
	ID          uint64 `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// StreamingPlugin mimics janus.plugin.streaming for the given mountpoints.
func StreamingPlugin(mps ...Mountpoint) PluginHandler {
	byID := make(map[uint64]Mountpoint, len(mps))
	for _, mp := range mps {
		byID[mp.ID] = mp
	}
	lookup := func(id any) (Mountpoint, bool) {
		f, ok := id.(float64)
		if !ok {
			return Mountpoint{}, false
		}
		mp, ok := byID[uint64(f)]
		return mp, ok
	}
	status := func(s string) PluginReply {
		return PluginReply{Async: true, Data: map[string]any{"streaming": "event", "result": map[string]string{"status": s}}}
	}

	return func(req PluginRequest) PluginReply {
		r := decodeRequest(req.Body)
		switch r.Request {
		case "list":
			list := make([]Mountpoint, 0, len(mps))
			list = append(list, mps...)
			return PluginReply{Data: map[string]any{"streaming": "list", "list": list}}
		case "info":
			mp, ok := lookup(r.ID)
			if !ok {
				return pluginFailure("streaming", 455, "No such mountpoint/stream")
			}
			return PluginReply{Data: map[string]any{"streaming": "info", "info": mp}}
		case "watch":
			if _, ok := lookup(r.ID); !ok {
				return pluginFailure("streaming", 455, "No such mountpoint/stream")
			}
			reply := status("preparing")
			reply.JSEP = Offer()
			return reply
		case "start":
			return status("starting")
		case "pause":
			return status("pausing")
		case "stop":
			return status("stopping")
		case "switch":
			mp, ok := lookup(r.ID)
			if !ok {
				return pluginFailure("streaming", 455, "No such mountpoint/stream")
			}
			return PluginReply{Async: true, Data: map[string]any{"streaming": "event", "switched": "ok", "id": mp.ID}}
		}
		return pluginFailure("streaming", 451, "Unknown request")
	}
}

// VideoCallPlugin mimics janus.plugin.videocall. Peers are not connected
// to each other; tests push the far side's events themselves.
func VideoCallPlugin() PluginHandler {
	var mu sync.Mutex
	users := make(map[domain.HandleID]string)

	result := func(fields map[string]any) PluginReply {
		return PluginReply{Async: true, Data: map[string]any{"videocall": "event", "result": fields}}
	}

	return func(req PluginRequest) PluginReply {
		r := decodeRequest(req.Body)
		mu.Lock()
		defer mu.Unlock()
		switch r.Request {
		case "list":
			list := make([]string, 0, len(users))
			for _, u := range users {
				list = append(list, u)
			}
			return result(map[string]any{"list": list})
		case "register":
			if r.Username == "" {
				return pluginFailure("videocall", 473, "Missing element (username)")
			}
			for _, u := range users {
				if u == r.Username {
					return pluginFailure("videocall", 476, "Username '"+r.Username+"' already taken")
				}
			}
			users[req.Handle] = r.Username
			return result(map[string]any{"event": "registered", "username": r.Username})
		case "call":
			if req.JSEP == nil {
				return pluginFailure("videocall", 474, "Missing SDP")
			}
			return result(map[string]any{"event": "calling"})
		case "accept":
			if req.JSEP == nil {
				return pluginFailure("videocall", 474, "Missing SDP")
			}
			return result(map[string]any{"event": "accepted"})
		case "set":
			return result(map[string]any{"event": "set"})
		case "hangup":
			return result(map[string]any{"event": "hangup", "username": users[req.Handle], "reason": "We did the hangup"})
		}
		return pluginFailure("videocall", 470, "Unknown request")
	}
}
