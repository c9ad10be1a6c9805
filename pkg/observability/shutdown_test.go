package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(Discard(), nil, time.Second)

	var order []string
	sm.Register("db", func(context.Context) error { order = append(order, "db"); return nil })
	sm.Register("redis", func(context.Context) error { order = append(order, "redis"); return nil })
	sm.Register("pruner", func(context.Context) error { order = append(order, "pruner"); return nil })

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"pruner", "redis", "db"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(Discard(), &http.Server{}, 0)
	assert.Equal(t, DefaultShutdownTimeout, sm.timeout)

	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("broken", func(context.Context) error { return errors.New("close failed") })

	err := sm.Shutdown()
	assert.ErrorContains(t, err, "broken: close failed")
	assert.True(t, ran, "hooks after a failure must still run")
}

func TestShutdownManager_Wait(t *testing.T) {
	sm := NewShutdownManager(Discard(), nil, time.Second)
	called := make(chan struct{})
	sm.Register("hook", func(context.Context) error { close(called); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
	<-called
}
