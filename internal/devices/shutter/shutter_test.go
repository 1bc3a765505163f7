package shutter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/httpapi"
	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
	"github.com/F6/labctrl-toolbox/internal/engine/transport"
)

type memUsers struct{ u *auth.User }

func (m memUsers) Lookup(username string) (*auth.User, bool) {
	if username == m.u.Username {
		return m.u, true
	}
	return nil, false
}

func shutterResponder(written []byte) []byte {
	s := string(written)
	switch {
	case strings.HasPrefix(s, "OPEN"), strings.HasPrefix(s, "CLOSE"):
		return []byte("OK\r")
	default:
		return []byte("ERR unknown\r")
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *transport.MockPort, string) {
	t.Helper()
	port := transport.NewMockPort(shutterResponder)
	framer := transport.NewLineFramer(port)

	sess := session.New(session.Config{
		Framer:    framer,
		Codec:     Codec{},
		Publisher: session.PublisherFunc(func(session.UpdateEvent) {}),
		Params: map[string]*quantity.ParameterSpec{
			"main":      {Step: quantity.PhysicalQuantity{Value: 1, Unit: quantity.Count}, Value: 0, Default: 0, Min: 0, Max: 1},
			"secondary": {Step: quantity.PhysicalQuantity{Value: 1, Unit: quantity.Count}, Value: 0, Default: 0, Min: 0, Max: 1},
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
	token, err := authn.Issue(user, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	subs := subscriptions.New(zerolog.Nop())
	r := chi.NewRouter()
	Mount(r, sess, authn, memUsers{u: user}, subs, zerolog.Nop())

	return httptest.NewServer(r), port, token
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestOpenAndCloseChannel(t *testing.T) {
	is := is.New(t)
	server, port, token := newTestServer(t)
	defer server.Close()

	before := port.WriteCount()
	_, result := doJSON(t, http.MethodPost, server.URL+"/parameter/main", token, map[string]bool{"open": true})
	is.Equal(result["result"], "OK")
	is.Equal(port.WriteCount(), before+1)

	_, status := doJSON(t, http.MethodGet, server.URL+"/parameter/main", token, nil)
	is.Equal(status["open"], true)

	_, result2 := doJSON(t, http.MethodPost, server.URL+"/parameter/main", token, map[string]bool{"open": false})
	is.Equal(result2["result"], "OK")

	_, status2 := doJSON(t, http.MethodGet, server.URL+"/parameter/main", token, nil)
	is.Equal(status2["open"], false)
}

func TestChannelsAreIndependent(t *testing.T) {
	is := is.New(t)
	server, _, token := newTestServer(t)
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/parameter/main", token, map[string]bool{"open": true})

	_, secondary := doJSON(t, http.MethodGet, server.URL+"/parameter/secondary", token, nil)
	is.Equal(secondary["open"], false)
}

func TestNoOpAdvisoryStillTransmits(t *testing.T) {
	is := is.New(t)
	server, port, token := newTestServer(t)
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/parameter/main", token, map[string]bool{"open": true})
	before := port.WriteCount()

	_, result := doJSON(t, http.MethodPost, server.URL+"/parameter/main", token, map[string]bool{"open": true})
	is.Equal(result["result"], "warn_no_action")
	is.Equal(port.WriteCount(), before+1)
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	is := is.New(t)
	server, _, _ := newTestServer(t)
	defer server.Close()

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/parameter/main", "", nil)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)
}

var _ httpapi.UserStore = memUsers{}
