package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	status := NewCompositeHealthChecker("v1").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "v1", status.Version)
}

func TestCompositeHealthChecker_CriticalAndOptional(t *testing.T) {
	hc := NewCompositeHealthChecker("v1")
	hc.AddCheck("record_store", func(context.Context) error { return nil })
	hc.AddOptionalCheck("cache", func(context.Context) error { return errors.New("dial tcp: refused") })

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: cache", status.Message)
	assert.False(t, status.Checks["cache"].Critical)

	hc.AddCheck("record_store", func(context.Context) error { return errors.New("down") })
	status = hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: cache, record_store", status.Message)

	hc.RemoveCheck("record_store")
	hc.RemoveCheck("cache")
	assert.True(t, hc.Check(context.Background()).Ready)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	hc := NewCompositeHealthChecker("v1")
	hc.SetTimeout(20 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks["slow"].Message, "deadline")
}

func TestCompositeHealthChecker_ReplacesByName(t *testing.T) {
	hc := NewCompositeHealthChecker("v1")
	hc.AddCheck("redis", func(context.Context) error { return errors.New("down") })
	hc.AddOptionalCheck("redis", func(context.Context) error { return errors.New("down") })

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Len(t, status.Checks, 1)
}
