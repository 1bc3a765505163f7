package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/devices/stage"
	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
	"github.com/F6/labctrl-toolbox/internal/engine/transport"
)

func stageResponder(written []byte) []byte {
	if strings.Contains(string(written), "MOVEABS") {
		return []byte("OK\r")
	}
	return []byte("ERR unknown\r")
}

func newStageTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	port := transport.NewMockPort(stageResponder)
	framer := transport.NewLineFramer(port)

	sess := session.New(session.Config{
		Framer:    framer,
		Codec:     stage.Codec{},
		Publisher: session.PublisherFunc(func(session.UpdateEvent) {}),
		Params: map[string]*quantity.ParameterSpec{
			"position": {Step: quantity.PhysicalQuantity{Value: 10, Unit: quantity.Micrometer}, Value: 0, Default: 0, Min: -1000000, Max: 1000000},
		},
	})
	if err := sess.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	authn := auth.New([]byte("secret"))
	user, err := auth.NewUser("alice", "pw", auth.Standard)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}

	subs := subscriptions.New(zerolog.Nop())
	r := chi.NewRouter()
	stage.Mount(r, sess, authn, stubUsers{u: user}, subs, zerolog.Nop())
	return httptest.NewServer(r)
}

type stubUsers struct{ u *auth.User }

func (s stubUsers) Lookup(username string) (*auth.User, bool) {
	if username == s.u.Username {
		return s.u, true
	}
	return nil, false
}

func TestClientAuthenticatesAndFetchesParameters(t *testing.T) {
	is := is.New(t)
	server := newStageTestServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	c, err := New(context.Background(), Config{
		BaseURL:  server.URL + "/",
		WSURL:    wsURL,
		Username: "alice",
		Password: "pw",
		Log:      zerolog.Nop(),
	})
	is.NoErr(err)
	defer c.Close()

	params := c.Parameters()
	_, ok := params["position"]
	is.True(ok)
}

func TestClientSendsCommandOverPersistentChannel(t *testing.T) {
	is := is.New(t)
	server := newStageTestServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	c, err := New(context.Background(), Config{
		BaseURL:  server.URL + "/",
		WSURL:    wsURL,
		Username: "alice",
		Password: "pw",
		Log:      zerolog.Nop(),
	})
	is.NoErr(err)
	defer c.Close()

	// give the channel watchdog a moment to connect and handshake
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.wsMu.Lock()
		connected := c.wsConn != nil
		c.wsMu.Unlock()
		if connected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	reply, err := c.SendCommand(map[string]interface{}{"position": 114514}, 2*time.Second)
	is.NoErr(err)
	is.Equal(reply["result"], "OK")
}

func TestClientRejectsWrongCredentials(t *testing.T) {
	is := is.New(t)
	server := newStageTestServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, err := New(context.Background(), Config{
		BaseURL:  server.URL + "/",
		WSURL:    wsURL,
		Username: "alice",
		Password: "wrong",
		Log:      zerolog.Nop(),
	})
	is.True(err != nil)
}
