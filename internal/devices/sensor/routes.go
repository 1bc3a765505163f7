package sensor

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/httpapi"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
	"github.com/F6/labctrl-toolbox/internal/engine/wsapi"
)

// continuousMode tracks whether continuous sampling is on; it is reported
// and switched as continuous_sampling_mode. It is not a ParameterSpec (no step/min/max/soft-limit semantics
// apply to it) so it lives alongside the session, not inside it.
type continuousMode struct {
	running int32
}

func (c *continuousMode) set(v bool) {
	if v {
		atomic.StoreInt32(&c.running, 1)
	} else {
		atomic.StoreInt32(&c.running, 0)
	}
}

func (c *continuousMode) get() bool { return atomic.LoadInt32(&c.running) == 1 }

type wireMessage struct {
	TemperatureSamplingInterval *int  `json:"temperature_sampling_interval,omitempty"`
	HumiditySamplingInterval    *int  `json:"humidity_sampling_interval,omitempty"`
	ContinuousSamplingMode      *bool `json:"continuous_sampling_mode,omitempty"`
	ID                          *int  `json:"id,omitempty"`
}

func apply(sess *session.Session, mode *continuousMode, msg wireMessage) session.OpResult {
	set := 0
	if msg.TemperatureSamplingInterval != nil {
		set++
	}
	if msg.HumiditySamplingInterval != nil {
		set++
	}
	if msg.ContinuousSamplingMode != nil {
		set++
	}
	if set != 1 {
		return session.OpResult{Code: session.ResultInvalidAction}
	}

	switch {
	case msg.TemperatureSamplingInterval != nil:
		return sess.SetParameter("temperature_sampling_interval", session.Log(*msg.TemperatureSamplingInterval))
	case msg.HumiditySamplingInterval != nil:
		return sess.SetParameter("humidity_sampling_interval", session.Log(*msg.HumiditySamplingInterval))
	default:
		if *msg.ContinuousSamplingMode {
			res := sess.StartContinuous()
			if res.Code == session.ResultOK {
				mode.set(true)
			}
			return res
		}
		res := sess.StopContinuous(true)
		if res.Code == session.ResultOK {
			mode.set(false)
		}
		return res
	}
}

// Mount wires the sensor's HTTP and websocket routes onto r.
func Mount(r chi.Router, sess *session.Session, authn *auth.Authenticator, users httpapi.UserStore, subs *subscriptions.Manager, log zerolog.Logger) {
	mode := &continuousMode{}

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string][]string{"resources": {"data", "parameter"}})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	r.Post("/token", httpapi.TokenHandler(authn, users))

	r.Group(func(r chi.Router) {
		r.Use(httpapi.BearerMiddleware(authn))

		r.Get("/data", func(w http.ResponseWriter, req *http.Request) {
			payload, err := EncodeGetData("temperature", "humidity")
			if err != nil {
				httpapi.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			resp, result := sess.ExecuteRaw(payload)
			if result.Code != session.ResultOK {
				httpapi.WriteResult(w, result)
				return
			}
			data, err := DecodeData(resp)
			if err != nil {
				httpapi.WriteResult(w, session.OpResult{Code: session.ResultResponseValidationFailure, Err: err})
				return
			}
			httpapi.WriteJSON(w, http.StatusOK, data)
		})

		r.Get("/parameter", func(w http.ResponseWriter, req *http.Request) {
			params := sess.Parameters()
			httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"parameters":              params,
				"continuous_sampling_mode": mode.get(),
			})
		})
		r.With(httpapi.RequireAccess(auth.Standard)).Post("/parameter", func(w http.ResponseWriter, req *http.Request) {
			var msg wireMessage
			if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteResult(w, apply(sess, mode, msg))
		})
	})

	// /ws authenticates itself in-band (the first JSON frame carries the
	// token, spec.md §4.7) rather than via the Authorization header, so it
	// must not sit behind BearerMiddleware.
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		wsapi.Serve(w, req, authn, subs, log, wsHandler(sess, mode))
	})
}

func wsHandler(sess *session.Session, mode *continuousMode) wsapi.Handler {
	return func(raw json.RawMessage, claims auth.TokenData) (session.OpResult, *int, error) {
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return session.OpResult{}, nil, err
		}
		if err := auth.RequireAtLeast(claims.AccessLevel, auth.Standard); err != nil {
			return session.OpResult{}, nil, err
		}
		return apply(sess, mode, msg), msg.ID, nil
	}
}
