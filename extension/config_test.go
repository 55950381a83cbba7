package extension

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/store/memory"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{PollInterval: 5 * time.Second, StoreDriver: DriverBolt}.WithDefaults()

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, DriverBolt, cfg.StoreDriver)
	assert.Equal(t, "/redeem", cfg.BasePath)
	assert.Equal(t, redeem.DefaultSilenceLease, cfg.SilenceLease)
	assert.Equal(t, redeem.DefaultAbandonTTL, cfg.AbandonTTL)
	assert.Equal(t, "redeem.db", cfg.BoltPath)
}

func TestMergeConfigurations(t *testing.T) {
	file := Config{
		BasePath:     "/billing",
		PollInterval: time.Minute,
	}
	programmatic := Config{
		BasePath:       "/ignored",
		DisableMigrate: true,
		WebhookSecret:  "whsec",
		PollInterval:   time.Second,
		SilenceLease:   3 * time.Minute,
	}

	got := mergeConfigurations(file, programmatic)
	assert.Equal(t, "/billing", got.BasePath)
	assert.Equal(t, time.Minute, got.PollInterval)
	assert.True(t, got.DisableMigrate)
	assert.Equal(t, "whsec", got.WebhookSecret)
	assert.Equal(t, 3*time.Minute, got.SilenceLease)
	assert.Equal(t, redeem.DefaultPendingTTL, got.PendingTTL)
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"Memory", Config{StoreDriver: DriverMemory}, false},
		{"Default", Config{}, false},
		{"Bolt", Config{StoreDriver: DriverBolt, BoltPath: filepath.Join(t.TempDir(), "redeem.db")}, false},
		{"SQLiteWithoutDB", Config{StoreDriver: DriverSQLite}, true},
		{"Unknown", Config{StoreDriver: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenStore(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Ping(context.Background()))
			assert.NoError(t, s.Close())
		})
	}
}

func TestRoutesMountUnderBasePath(t *testing.T) {
	eng := redeem.New(memory.New(), gateway.NewFake(), nil)
	t.Cleanup(func() { _ = eng.Stop() })

	cfg := Config{WebhookSecret: "whsec"}.WithDefaults()
	srv := httptest.NewServer(Routes(eng, cfg))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/redeem/customers/nobody")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/redeem/webhooks/payments", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
