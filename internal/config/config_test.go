package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISPATCH_DATABASE_URL", "postgres://localhost/dispatch")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, DriverPostgres, cfg.Store.LockDriver)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.HeartbeatTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Store.IdempotencyTTL)
	assert.True(t, cfg.App.IsDev())
}

func TestLoad_MemoryDriversNeedNoDatabase(t *testing.T) {
	t.Setenv("DISPATCH_STORE_DRIVER", DriverMemory)
	t.Setenv("DISPATCH_LOCK_DRIVER", DriverMemory)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "postgres store without url",
			env:  map[string]string{"DISPATCH_STORE_DRIVER": DriverPostgres},
		},
		{
			name: "unknown store driver",
			env:  map[string]string{"DISPATCH_STORE_DRIVER": "mysql"},
		},
		{
			name: "postgres lock over memory store",
			env:  map[string]string{"DISPATCH_STORE_DRIVER": DriverMemory, "DISPATCH_LOCK_DRIVER": DriverPostgres},
		},
		{
			name: "redis lock without address",
			env:  map[string]string{"DISPATCH_STORE_DRIVER": DriverMemory, "DISPATCH_LOCK_DRIVER": DriverRedis},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
