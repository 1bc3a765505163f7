package config

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/matryer/is"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
)

func TestServerConfigSaveLoadRoundTrip(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "server.config.json")

	cfg := &ServerConfig{
		Auth: AuthConfig{
			Users: []UserRecord{
				{ID: uuid.New(), Username: "alice", HashedPassword: "hash", AccessLevel: "advanced"},
			},
			JWT: JWTConfig{Secret: "s", Algorithm: "HS256", ExpireSeconds: 900},
		},
		CORS: CORSConfig{Origins: []string{"*"}, AllowCredentials: true},
	}

	is.NoErr(SaveServerConfig(path, cfg))

	loaded, err := LoadServerConfig(path)
	is.NoErr(err)
	is.Equal(loaded.Auth.Users[0].Username, "alice")
	is.Equal(loaded.Auth.JWT.Algorithm, "HS256")
}

func TestUserStoreLookup(t *testing.T) {
	is := is.New(t)

	cfg := &ServerConfig{Auth: AuthConfig{Users: []UserRecord{
		{ID: uuid.New(), Username: "bob", HashedPassword: "hash", AccessLevel: "standard"},
	}}}
	store, err := NewUserStore(cfg)
	is.NoErr(err)

	user, ok := store.Lookup("bob")
	is.True(ok)
	is.Equal(user.AccessLevel, auth.Standard)

	_, ok = store.Lookup("nobody")
	is.True(!ok)
}

func TestHardwareConfigValidatesParametersOnLoad(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "hardware.config.json")

	good := &HardwareConfig{
		Port: SerialPortConfig{Device: "/dev/ttyUSB0", BaudRate: 115200},
		Parameters: map[string]quantity.ParameterSpec{
			"position": {
				Step: quantity.PhysicalQuantity{Value: 10, Unit: quantity.Micrometer},
				Value: 0, Default: 0, Min: -1000000, Max: 1000000,
			},
		},
	}
	is.NoErr(SaveHardwareConfig(path, good))

	loaded, err := LoadHardwareConfig(path)
	is.NoErr(err)
	is.Equal(loaded.Port.BaudRate, 115200)
}

func TestLoadProfileSet(t *testing.T) {
	is := is.New(t)

	doc := `
profiles:
  - kind: stage
    parameters:
      position:
        step: { value: 10, unit: um }
        value: 0
        default: 0
        min: -1000000
        max: 1000000
`
	set, err := LoadProfileSet(io.NopCloser(strings.NewReader(doc)))
	is.NoErr(err)

	profile, ok := set.Find("stage")
	is.True(ok)
	is.Equal(profile.Parameters["position"].Max, 1000000)
}
