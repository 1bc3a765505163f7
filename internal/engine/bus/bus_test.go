package bus

import (
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	is := is.New(t)

	b := New(2, zerolog.Nop())
	b.Publish(session.ParameterChanged{Name: "a", Value: 1})
	b.Publish(session.ParameterChanged{Name: "b", Value: 2})

	done := make(chan struct{})
	go func() {
		b.Publish(session.ParameterChanged{Name: "c", Value: 3})
		close(done)
	}()
	<-done // must return promptly; a blocking Publish would hang the test runner

	// the oldest queued event ("a") was dropped to make room for "c"
	first := (<-b.Events()).(session.ParameterChanged)
	is.Equal(first.Name, "b")
}

func TestPublishPreservesSourceOrderUnderCapacity(t *testing.T) {
	is := is.New(t)

	b := New(8, zerolog.Nop())
	b.Publish(session.ParameterChanged{Name: "x", Value: 1})
	b.Publish(session.ParameterChanged{Name: "x", Value: 2})
	b.Publish(session.ParameterChanged{Name: "x", Value: 3})

	first := (<-b.Events()).(session.ParameterChanged)
	second := (<-b.Events()).(session.ParameterChanged)
	third := (<-b.Events()).(session.ParameterChanged)

	is.Equal(first.Value, 1)
	is.Equal(second.Value, 2)
	is.Equal(third.Value, 3)
}
