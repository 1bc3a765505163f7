package config

import (
	"sync"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
)

// UserStore implements httpapi.UserStore over an in-memory copy of the
// ServerConfig's user list, refreshed whenever the server config is
// reloaded or a credential changes.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*auth.User
}

// NewUserStore builds a UserStore from a ServerConfig's Auth.Users list.
func NewUserStore(cfg *ServerConfig) (*UserStore, error) {
	s := &UserStore{users: make(map[string]*auth.User, len(cfg.Auth.Users))}
	for _, rec := range cfg.Auth.Users {
		user, err := rec.ToUser()
		if err != nil {
			return nil, err
		}
		s.users[user.Username] = user
	}
	return s, nil
}

// Lookup implements httpapi.UserStore.
func (s *UserStore) Lookup(username string) (*auth.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// Put inserts or replaces a user record, used when credentials change.
func (s *UserStore) Put(user *auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
}
