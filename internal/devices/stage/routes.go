package stage

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/httpapi"
	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
	"github.com/F6/labctrl-toolbox/internal/engine/wsapi"
)

// physicalValue is the wire shape of a unit-tagged quantity.
type physicalValue struct {
	Value float64       `json:"value"`
	Unit  quantity.Unit `json:"unit"`
}

// wireMessage is the StageOperation shape (spec.md §3, §9): each parameter
// may be targeted either logically or physically, never both at once.
type wireMessage struct {
	Position             *int           `json:"position,omitempty"`
	AbsolutePosition      *physicalValue `json:"absolute_position,omitempty"`
	Velocity             *int           `json:"velocity,omitempty"`
	AbsoluteVelocity      *physicalValue `json:"absolute_velocity,omitempty"`
	Acceleration         *int           `json:"acceleration,omitempty"`
	AbsoluteAcceleration *physicalValue `json:"absolute_acceleration,omitempty"`
	ID                   *int           `json:"id,omitempty"`
}

// resolveOperand picks exactly one of the logical/physical arms for one
// parameter pair, per spec.md §9's tagged-variant design note.
func resolveOperand(logical *int, physical *physicalValue) (session.Operand, bool, error) {
	switch {
	case logical != nil && physical != nil:
		return session.Operand{}, false, errBothFormsSupplied
	case logical != nil:
		return session.Log(*logical), true, nil
	case physical != nil:
		return session.Phys(physical.Value, physical.Unit), true, nil
	default:
		return session.Operand{}, false, nil
	}
}

var errBothFormsSupplied = &session.ResponseValidationError{Reason: "both logical and physical forms supplied for the same parameter"}
var errNotOneParameter = &session.ResponseValidationError{Reason: "message must target exactly one parameter"}

// apply maps a decoded wireMessage onto exactly one Session.SetParameter
// call, rejecting contradictory or empty messages as InvalidAction.
func apply(sess *session.Session, msg wireMessage) session.OpResult {
	type target struct {
		name     string
		logical  *int
		physical *physicalValue
	}
	targets := []target{
		{"position", msg.Position, msg.AbsolutePosition},
		{"velocity", msg.Velocity, msg.AbsoluteVelocity},
		{"acceleration", msg.Acceleration, msg.AbsoluteAcceleration},
	}

	var name string
	var op session.Operand
	found := false
	for _, t := range targets {
		resolved, present, err := resolveOperand(t.logical, t.physical)
		if err != nil {
			return session.OpResult{Code: session.ResultInvalidAction, Err: err}
		}
		if present {
			if found {
				return session.OpResult{Code: session.ResultInvalidAction, Err: errNotOneParameter}
			}
			name, op, found = t.name, resolved, true
		}
	}
	if !found {
		return session.OpResult{Code: session.ResultInvalidAction, Err: errNotOneParameter}
	}
	return sess.SetParameter(name, op)
}

// Mount wires the stage's HTTP and websocket routes onto r, per spec.md §6
// and §10.1.
func Mount(r chi.Router, sess *session.Session, authn *auth.Authenticator, users httpapi.UserStore, subs *subscriptions.Manager, log zerolog.Logger) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string][]string{"resources": {"position", "absolute_position", "parameter"}})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	r.Post("/token", httpapi.TokenHandler(authn, users))

	r.Group(func(r chi.Router) {
		r.Use(httpapi.BearerMiddleware(authn))

		r.Get("/position", func(w http.ResponseWriter, req *http.Request) {
			spec, _ := sess.Parameter("position")
			httpapi.WriteJSON(w, http.StatusOK, map[string]int{"value": spec.Value})
		})
		r.With(httpapi.RequireAccess(auth.Standard)).Post("/position", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Value int `json:"value"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteResult(w, sess.SetParameter("position", session.Log(body.Value)))
		})

		r.Get("/absolute_position", func(w http.ResponseWriter, req *http.Request) {
			unit := quantity.Unit(req.URL.Query().Get("unit"))
			if unit == "" {
				unit = quantity.Millimeter
			}
			spec, _ := sess.Parameter("position")
			phys, err := quantity.ToPhysical(spec.Value, spec, unit)
			if err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"value": phys.Value, "unit": phys.Unit})
		})
		r.With(httpapi.RequireAccess(auth.Standard)).Post("/absolute_position", func(w http.ResponseWriter, req *http.Request) {
			var body physicalValue
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpapi.WriteMalformed(w, err)
				return
			}
			httpapi.WriteResult(w, sess.SetParameter("position", session.Phys(body.Value, body.Unit)))
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

// wsHandler adapts apply to the wsapi.Handler signature.
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
