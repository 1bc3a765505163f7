package wsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
)

type setPosition struct {
	Value int  `json:"value"`
	ID    *int `json:"id,omitempty"`
}

func echoHandler(raw json.RawMessage, claims auth.TokenData) (session.OpResult, *int, error) {
	var op setPosition
	if err := json.Unmarshal(raw, &op); err != nil {
		return session.OpResult{}, nil, err
	}
	return session.OpResult{Code: session.ResultOK}, op.ID, nil
}

func newTestServer(authn *auth.Authenticator, subs *subscriptions.Manager, handle Handler) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(w, r, authn, subs, zerolog.Nop(), handle)
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHandshakeSuccessRegistersSession(t *testing.T) {
	is := is.New(t)

	authn := auth.New([]byte("secret"))
	user, err := auth.NewUser("alice", "pw", auth.Standard)
	is.NoErr(err)
	token, err := authn.Issue(user, time.Minute)
	is.NoErr(err)

	subs := subscriptions.New(zerolog.Nop())
	server := newTestServer(authn, subs, echoHandler)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	is.NoErr(conn.WriteJSON(map[string]string{"token": token}))

	var reply map[string]string
	is.NoErr(conn.ReadJSON(&reply))
	is.Equal(reply["auth_result"], "success")

	time.Sleep(50 * time.Millisecond)
	is.Equal(subs.Count(), 1)
}

func TestMalformedFirstMessageClosesWithoutRegisteringSession(t *testing.T) {
	is := is.New(t)

	authn := auth.New([]byte("secret"))
	subs := subscriptions.New(zerolog.Nop())
	server := newTestServer(authn, subs, echoHandler)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	is.NoErr(conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var errReply map[string]string
	is.NoErr(conn.ReadJSON(&errReply))
	is.True(errReply["error"] != "")

	_, _, err := conn.ReadMessage()
	is.True(err != nil)
	closeErr, ok := err.(*websocket.CloseError)
	is.True(ok)
	is.Equal(closeErr.Code, websocket.ClosePolicyViolation)

	time.Sleep(50 * time.Millisecond)
	is.Equal(subs.Count(), 0)
}

func TestOperationRoundTripWithClientID(t *testing.T) {
	is := is.New(t)

	authn := auth.New([]byte("secret"))
	user, err := auth.NewUser("alice", "pw", auth.Standard)
	is.NoErr(err)
	token, err := authn.Issue(user, time.Minute)
	is.NoErr(err)

	subs := subscriptions.New(zerolog.Nop())
	server := newTestServer(authn, subs, echoHandler)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	is.NoErr(conn.WriteJSON(map[string]string{"token": token}))
	var handshakeReply map[string]string
	is.NoErr(conn.ReadJSON(&handshakeReply))

	id := 42
	is.NoErr(conn.WriteJSON(setPosition{Value: 100, ID: &id}))

	var reply resultMessage
	is.NoErr(conn.ReadJSON(&reply))
	is.Equal(reply.Result, string(session.ResultOK))
	is.True(reply.ID != nil)
	is.Equal(*reply.ID, 42)
}
