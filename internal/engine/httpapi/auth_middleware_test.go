package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
)

func TestBearerMiddlewareRejectsMissingToken(t *testing.T) {
	is := is.New(t)

	a := auth.New([]byte("secret"))
	handler := BearerMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/position", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	is.Equal(rr.Code, http.StatusUnauthorized)
}

func TestBearerMiddlewareRejectsExpiredToken(t *testing.T) {
	is := is.New(t)

	a := auth.New([]byte("secret"))
	user, err := auth.NewUser("alice", "pw", auth.Standard)
	is.NoErr(err)
	token, err := a.Issue(user, -time.Second)
	is.NoErr(err)

	handler := BearerMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/position", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	is.Equal(rr.Code, http.StatusUnauthorized)
}

func TestRequireAccessRejectsInsufficientLevel(t *testing.T) {
	is := is.New(t)

	a := auth.New([]byte("secret"))
	user, err := auth.NewUser("readonly-user", "pw", auth.ReadOnly)
	is.NoErr(err)
	token, err := a.Issue(user, time.Minute)
	is.NoErr(err)

	chain := BearerMiddleware(a)(RequireAccess(auth.Standard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/position", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)

	is.Equal(rr.Code, http.StatusForbidden)
}
