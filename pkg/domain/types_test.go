package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 60*time.Second, RetryBackoff(0))
	assert.Equal(t, 120*time.Second, RetryBackoff(1))
	assert.Equal(t, 240*time.Second, RetryBackoff(2))
	assert.Equal(t, 480*time.Second, RetryBackoff(3))
	assert.Equal(t, 3600*time.Second, RetryBackoff(6), "capped at one hour")
	assert.Equal(t, 3600*time.Second, RetryBackoff(10))
}

func TestEventVisible(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	queued := &Event{Status: EventQueued}
	assert.True(t, queued.Visible(now))

	leased := &Event{Status: EventQueued, LeaseDeadline: &future}
	assert.False(t, leased.Visible(now), "unexpired lease hides the event")

	expiredLease := &Event{Status: EventQueued, LeaseDeadline: &past}
	assert.True(t, expiredLease.Visible(now), "expired lease is no lease")

	retryDue := &Event{Status: EventRetry, NextRetryTime: &past}
	assert.True(t, retryDue.Visible(now))

	retryWaiting := &Event{Status: EventRetry, NextRetryTime: &future}
	assert.False(t, retryWaiting.Visible(now))

	for _, st := range []EventStatus{EventProcessing, EventCompleted, EventFailed} {
		ev := &Event{Status: st}
		assert.False(t, ev.Visible(now), "status %s is never visible", st)
	}
}

func TestEngineIsStale(t *testing.T) {
	now := time.Now().UTC()
	fresh := &Engine{LastHeartbeat: now.Add(-time.Minute)}
	assert.False(t, fresh.IsStale(now))

	stale := &Engine{LastHeartbeat: now.Add(-StaleAfter - time.Second)}
	assert.True(t, stale.IsStale(now))
}

func TestStatusTerminality(t *testing.T) {
	assert.True(t, ScenarioCompleted.IsTerminal())
	assert.True(t, ScenarioTerminated.IsTerminal())
	assert.True(t, ScenarioFailed.IsTerminal())
	assert.False(t, ScenarioRunning.IsTerminal())
	assert.False(t, ScenarioPaused.IsTerminal())

	assert.True(t, EventCompleted.IsTerminal())
	assert.True(t, EventFailed.IsTerminal())
	assert.False(t, EventRetry.IsTerminal())
}
