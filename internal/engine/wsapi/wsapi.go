// Package wsapi implements the Persistent Channel Surface (spec.md §4.7):
// the authentication handshake, per-connection protocol loop, and
// termination handling shared by every device's websocket endpoint.
package wsapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
)

// policyViolation is the websocket close code spec.md §4.7/§6 mandates for
// every handshake or protocol failure.
const policyViolation = websocket.ClosePolicyViolation

// Handler decodes and executes one device-specific operation message. It
// returns the result to report to the originating socket and an optional
// client-supplied correlation id. A non-nil err is a protocol violation
// (e.g. insufficient access level) and closes the connection with 1008,
// after the error is sent to the client.
type Handler func(raw json.RawMessage, claims auth.TokenData) (result session.OpResult, clientID *int, err error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type handshakeMessage struct {
	Token string `json:"token"`
}

type resultMessage struct {
	Result string `json:"result"`
	ID     *int   `json:"id,omitempty"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// Serve upgrades r to a websocket, performs the handshake, and runs the
// per-connection loop until the client disconnects or a protocol violation
// occurs. handle is invoked for every message after the handshake.
func Serve(w http.ResponseWriter, r *http.Request, authn *auth.Authenticator, subs *subscriptions.Manager, log zerolog.Logger, handle Handler) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	claims, ok := handshake(conn, authn)
	if !ok {
		return
	}

	var mu sync.Mutex
	rec := subs.Register(claims, func(e session.UpdateEvent) error {
		mu.Lock()
		defer mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		return conn.WriteJSON(encodeUpdate(e))
	})
	defer subs.Remove(rec.ID)

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			// Includes normal close; either way this connection's loop is
			// done. ConnectionClosed removes the session via the deferred
			// subs.Remove above.
			return
		}

		result, clientID, err := handle(raw, claims)
		if err != nil {
			mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			_ = conn.WriteJSON(errorMessage{Error: err.Error()})
			mu.Unlock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(policyViolation, err.Error()),
				time.Now().Add(time.Second))
			return
		}

		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = conn.WriteJSON(resultMessage{Result: string(result.Code), ID: clientID})
		mu.Unlock()
	}
}

// handshake implements spec.md §4.7 steps 1-3. Returns ok=false if the
// connection was closed due to a failed or malformed handshake (the caller
// must not proceed to registration).
func handshake(conn *websocket.Conn, authn *auth.Authenticator) (auth.TokenData, bool) {
	var msg handshakeMessage
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.WriteJSON(errorMessage{Error: "expected {\"token\": \"...\"} as first message"})
		closeWithPolicyViolation(conn, "malformed handshake")
		return auth.TokenData{}, false
	}

	claims, err := authn.Validate(msg.Token)
	if err != nil {
		_ = conn.WriteJSON(errorMessage{Error: "authentication failed"})
		closeWithPolicyViolation(conn, "auth rejected")
		return auth.TokenData{}, false
	}

	if err := conn.WriteJSON(map[string]string{"auth_result": "success"}); err != nil {
		return auth.TokenData{}, false
	}
	conn.SetReadDeadline(time.Time{})
	return claims, true
}

func closeWithPolicyViolation(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(policyViolation, reason),
		time.Now().Add(time.Second))
}

// encodeUpdate shapes an UpdateEvent the way spec.md §6 describes broadcast
// payloads: a flat object keyed by field name, e.g. {"position": 200000}.
func encodeUpdate(e session.UpdateEvent) interface{} {
	switch v := e.(type) {
	case session.ParameterChanged:
		return map[string]interface{}{v.Name: v.Value}
	case session.Sample:
		out := make(map[string]interface{}, len(v.Fields))
		for k, val := range v.Fields {
			out[k] = val
		}
		return out
	default:
		return map[string]interface{}{}
	}
}
