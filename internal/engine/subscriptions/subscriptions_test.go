package subscriptions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

func TestBroadcastFanOutToAllSubscribers(t *testing.T) {
	is := is.New(t)

	m := New(zerolog.Nop())
	var mu sync.Mutex
	var receivedA, receivedB []session.UpdateEvent

	m.Register(auth.TokenData{Subject: "a"}, func(e session.UpdateEvent) error {
		mu.Lock()
		defer mu.Unlock()
		receivedA = append(receivedA, e)
		return nil
	})
	m.Register(auth.TokenData{Subject: "b"}, func(e session.UpdateEvent) error {
		mu.Lock()
		defer mu.Unlock()
		receivedB = append(receivedB, e)
		return nil
	})

	m.Broadcast(session.ParameterChanged{Name: "position", Value: 200000})

	mu.Lock()
	defer mu.Unlock()
	is.Equal(len(receivedA), 1)
	is.Equal(len(receivedB), 1)
	is.Equal(receivedA[0].(session.ParameterChanged).Value, 200000)
	is.Equal(receivedB[0].(session.ParameterChanged).Value, 200000)
}

func TestDisconnectDuringBroadcastRemovesExactlyOneSession(t *testing.T) {
	is := is.New(t)

	m := New(zerolog.Nop())
	m.Register(auth.TokenData{Subject: "ok"}, func(session.UpdateEvent) error { return nil })
	closed := m.Register(auth.TokenData{Subject: "closed"}, func(session.UpdateEvent) error {
		return errors.New("connection closed")
	})
	m.Register(auth.TokenData{Subject: "also-ok"}, func(session.UpdateEvent) error { return nil })

	is.Equal(m.Count(), 3)
	m.Broadcast(session.ParameterChanged{Name: "position", Value: 1})

	is.Equal(m.Count(), 2)
	_, stillThere := m.records[closed.ID]
	is.True(!stillThere)
}

func TestSlowSubscriberDroppedWithoutBlockingOthers(t *testing.T) {
	is := is.New(t)

	m := New(zerolog.Nop())
	var fastDelivered bool
	m.Register(auth.TokenData{Subject: "slow"}, func(session.UpdateEvent) error {
		time.Sleep(time.Second)
		return nil
	})
	m.Register(auth.TokenData{Subject: "fast"}, func(session.UpdateEvent) error {
		fastDelivered = true
		return nil
	})

	start := time.Now()
	m.Broadcast(session.ParameterChanged{Name: "position", Value: 1})
	elapsed := time.Since(start)

	is.True(fastDelivered)
	is.True(elapsed < 500*time.Millisecond)
}
