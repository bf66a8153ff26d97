package protocol

import (
	"errors"
	"testing"

	"github.com/marekhoryna/janus-client/internal/domain"
)

const testSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestValidateJSEP(t *testing.T) {
	sum, err := ValidateJSEP(&domain.JSEP{Type: "offer", SDP: testSDP})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !sum.Audio || !sum.Video || sum.Data {
		t.Fatalf("unexpected summary: %#v", sum)
	}
}

func TestValidateJSEP_Rejects(t *testing.T) {
	cases := []*domain.JSEP{
		nil,
		{Type: "rollback", SDP: testSDP},
		{Type: "answer"},
		{Type: "answer", SDP: "definitely not sdp"},
	}
	for i, j := range cases {
		if _, err := ValidateJSEP(j); !errors.Is(err, domain.ErrProtocol) {
			t.Errorf("case %d: err=%v, want ErrProtocol", i, err)
		}
	}
}

func TestValidateCandidate(t *testing.T) {
	good := &domain.Candidate{Candidate: "candidate:1 1 udp 2013266431 192.168.1.2 50000 typ host"}
	if err := ValidateCandidate(good); err != nil {
		t.Fatalf("valid candidate rejected: %v", err)
	}
	if err := ValidateCandidate(&domain.Candidate{Completed: true}); err != nil {
		t.Fatalf("completed marker rejected: %v", err)
	}
	if err := ValidateCandidate(nil); err != nil {
		t.Fatalf("nil rejected: %v", err)
	}
	if err := ValidateCandidate(&domain.Candidate{Candidate: "candidate:garbage"}); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("err=%v, want ErrProtocol", err)
	}
}
