package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReturnsHealthyOnSuccess(t *testing.T) {
	h := NewChecker(time.Second)
	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })

	res, err := h.Check(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, res.Status)
}

func TestCheckReturnsUnhealthyOnError(t *testing.T) {
	h := NewChecker(time.Second)
	h.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("boom") })

	res, err := h.Check(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "boom", res.Message)
}

func TestCheckUnknownNameErrors(t *testing.T) {
	h := NewChecker(time.Second)
	_, err := h.Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCheckResultIsCached(t *testing.T) {
	h := NewChecker(time.Second)
	h.SetCacheTTL(time.Minute)

	calls := 0
	h.RegisterCheck("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, err := h.Check(context.Background(), "counted")
	require.NoError(t, err)
	_, err = h.Check(context.Background(), "counted")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestOverallStatusReflectsWorstCheck(t *testing.T) {
	h := NewChecker(time.Second)
	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	h.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("down") })

	assert.Equal(t, StatusUnhealthy, h.OverallStatus(context.Background()))
}

func TestDiscoveryCheckRejectsDisallowedState(t *testing.T) {
	check := DiscoveryCheck(func() string { return "stopped" }, "advertised", "registering")
	err := check(context.Background())
	assert.Error(t, err)
}

func TestDiscoveryCheckAllowsConfiguredState(t *testing.T) {
	check := DiscoveryCheck(func() string { return "advertised" }, "advertised", "registering")
	assert.NoError(t, check(context.Background()))
}
