package shutter

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/httpapi"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
	"github.com/F6/labctrl-toolbox/internal/engine/wsapi"
)

type wireMessage struct {
	Channels map[string]bool `json:"channels,omitempty"`
	ID       *int            `json:"id,omitempty"`
}

func boolToLogical(open bool) int {
	if open {
		return 1
	}
	return 0
}

// apply sets each named channel in turn. A message naming more than one
// channel applies them in map order; Session's per-parameter protocol
// still publishes one ParameterChanged per channel.
func apply(sess *session.Session, msg wireMessage) session.OpResult {
	if len(msg.Channels) == 0 {
		return session.OpResult{Code: session.ResultInvalidAction}
	}
	var last session.OpResult
	for channel, open := range msg.Channels {
		last = sess.SetParameter(channel, session.Log(boolToLogical(open)))
		if last.Err != nil {
			return last
		}
	}
	return last
}

// Mount wires the shutter's HTTP and websocket routes onto r.
func Mount(r chi.Router, sess *session.Session, authn *auth.Authenticator, users httpapi.UserStore, subs *subscriptions.Manager, log zerolog.Logger) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string][]string{"resources": {"parameter"}})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	r.Post("/token", httpapi.TokenHandler(authn, users))

	r.Group(func(r chi.Router) {
		r.Use(httpapi.BearerMiddleware(authn))

		r.Get("/parameter", func(w http.ResponseWriter, req *http.Request) {
			httpapi.WriteJSON(w, http.StatusOK, sess.Parameters())
		})
		r.Get("/parameter/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			spec, ok := sess.Parameter(name)
			if !ok {
				httpapi.WriteJSON(w, http.StatusOK, map[string]string{"result": string(session.ResultInvalidAction)})
				return
			}
			httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"open": spec.Value == 1})
		})
		r.With(httpapi.RequireAccess(auth.Standard)).Post("/parameter/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			var body struct {
				Open bool `json:"open"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteResult(w, sess.SetParameter(name, session.Log(boolToLogical(body.Open))))
		})
	})

	// /ws authenticates itself in-band (the first JSON frame carries the
	// token, spec.md §4.7) rather than via the Authorization header, so it
	// must not sit behind BearerMiddleware.
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		wsapi.Serve(w, req, authn, subs, log, wsHandler(sess))
	})
}

func wsHandler(sess *session.Session) wsapi.Handler {
	return func(raw json.RawMessage, claims auth.TokenData) (session.OpResult, *int, error) {
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return session.OpResult{}, nil, err
		}
		if err := auth.RequireAtLeast(claims.AccessLevel, auth.Standard); err != nil {
			return session.OpResult{}, nil, err
		}
		return apply(sess, msg), msg.ID, nil
	}
}
