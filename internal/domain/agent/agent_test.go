package agent

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAvailability_OnlineStampsHeartbeat(t *testing.T) {
	a := New(uuid.New(), "rider", 2)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	a.SetAvailability(AvailabilityOnline, at)
	require.NotNil(t, a.LastHeartbeatAt)
	assert.Equal(t, at, *a.LastHeartbeatAt)

	a.SetAvailability(AvailabilityOffline, at.Add(time.Hour))
	assert.Equal(t, AvailabilityOffline, a.Availability)
	assert.Equal(t, at, *a.LastHeartbeatAt)
}

func TestIsStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cutoff := now.Add(-time.Minute)

	silent := New(uuid.New(), "silent", 1)
	silent.Availability = AvailabilityOnline
	assert.True(t, silent.IsStale(cutoff))

	fresh := New(uuid.New(), "fresh", 1)
	fresh.SetAvailability(AvailabilityOnline, now)
	assert.False(t, fresh.IsStale(cutoff))

	old := New(uuid.New(), "old", 1)
	old.SetAvailability(AvailabilityOnline, now.Add(-time.Hour))
	assert.True(t, old.IsStale(cutoff))

	offline := New(uuid.New(), "offline", 1)
	assert.False(t, offline.IsStale(cutoff))
}
