package dial

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/marekhoryna/janus-client/internal/core/mocks"
	"github.com/marekhoryna/janus-client/internal/domain"
)

func TestDial_RoutesByScheme(t *testing.T) {
	ctrl := gomock.NewController(t)
	wsd := mocks.NewMockDialer(ctrl)
	lpd := mocks.NewMockDialer(ctrl)
	tr := mocks.NewMockTransport(ctrl)

	d := &Dialer{ws: wsd, longpoll: lpd}
	ctx := context.Background()

	wsd.EXPECT().Dial(ctx, "wss://gw:8989").Return(tr, nil)
	lpd.EXPECT().Dial(ctx, "https://gw/janus").Return(tr, nil)

	for _, server := range []string{"wss://gw:8989", "https://gw/janus"} {
		got, err := d.Dial(ctx, server)
		if err != nil || got != tr {
			t.Fatalf("%s: transport=%v err=%v", server, got, err)
		}
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	d := New(Options{})
	for _, server := range []string{"unix:///tmp/janus.sock", "://broken"} {
		if _, err := d.Dial(context.Background(), server); !errors.Is(err, domain.ErrConnection) {
			t.Fatalf("%s: err=%v", server, err)
		}
	}
}
