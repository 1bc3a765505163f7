package spectrometer

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

// wireMessage names exactly one parameter per message, mirroring the
// stage/sensor families.
type wireMessage struct {
	IntegrationTime *int `json:"integration_time,omitempty"`
	BoxcarWidth     *int `json:"boxcar_width,omitempty"`
	AverageTimes    *int `json:"average_times,omitempty"`
	ID              *int `json:"id,omitempty"`
}

func apply(sess *session.Session, msg wireMessage) session.OpResult {
	type target struct {
		name string
		v    *int
	}
	targets := []target{
		{"integration_time", msg.IntegrationTime},
		{"boxcar_width", msg.BoxcarWidth},
		{"average_times", msg.AverageTimes},
	}
	var name string
	var value int
	found := false
	for _, t := range targets {
		if t.v == nil {
			continue
		}
		if found {
			return session.OpResult{Code: session.ResultInvalidAction}
		}
		name, value, found = t.name, *t.v, true
	}
	if !found {
		return session.OpResult{Code: session.ResultInvalidAction}
	}
	return sess.SetParameter(name, session.Log(value))
}

// Mount wires the spectrometer's HTTP and websocket routes onto r.
func Mount(r chi.Router, sess *session.Session, authn *auth.Authenticator, users httpapi.UserStore, subs *subscriptions.Manager, log zerolog.Logger) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string][]string{"resources": {"parameter", "spectrum"}})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	r.Post("/token", httpapi.TokenHandler(authn, users))

	r.Group(func(r chi.Router) {
		r.Use(httpapi.BearerMiddleware(authn))

		r.Get("/spectrum", func(w http.ResponseWriter, req *http.Request) {
			query, err := EncodeGetSpectrum()
			if err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			raw, result := sess.ExecuteRaw(query)
			if result.Err != nil {
				httpapi.WriteResult(w, result)
				return
			}
			spectrum, err := DecodeSpectrum(raw)
			if err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"spectrum": spectrum})
		})

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
			httpapi.WriteJSON(w, http.StatusOK, spec)
		})
		r.With(httpapi.RequireAccess(auth.Standard)).Post("/parameter/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			var body struct {
				Value int `json:"value"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteResult(w, sess.SetParameter(name, session.Log(body.Value)))
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
