package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "MODEL_API_URL", "http://model:8000")
	setEnv(t, "PORT", "9090")
	setEnv(t, "MODEL_TIMEOUT_MS", "1500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultKafkaBrokers, cfg.KafkaBrokers)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
	assert.Equal(t, 1500*time.Millisecond, cfg.ModelTimeout)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, ScorerModeLive, cfg.ScorerMode)
	assert.False(t, cfg.ScorerFailClosed)
}

func TestLoad_LiveScorerRequiresModelURL(t *testing.T) {
	setEnv(t, "MODEL_API_URL", "")
	setEnv(t, "SCORER_MODE", "live")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL_API_URL is required")
}

func TestLoad_StubScorerNeedsNoModelURL(t *testing.T) {
	setEnv(t, "MODEL_API_URL", "")
	setEnv(t, "SCORER_MODE", "stub")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ScorerModeStub, cfg.ScorerMode)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid stub config",
			config: Config{
				ScorerMode:   ScorerModeStub,
				KafkaBrokers: "localhost:9092",
				PollInterval: time.Second,
			},
			wantErr: false,
		},
		{
			name: "unknown scorer mode",
			config: Config{
				ScorerMode:   "maybe",
				KafkaBrokers: "localhost:9092",
				PollInterval: time.Second,
			},
			wantErr: true,
		},
		{
			name: "missing kafka brokers",
			config: Config{
				ScorerMode:   ScorerModeStub,
				PollInterval: time.Second,
			},
			wantErr: true,
		},
		{
			name: "non-positive poll interval",
			config: Config{
				ScorerMode:   ScorerModeStub,
				KafkaBrokers: "localhost:9092",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Env = "development"
	assert.True(t, cfg.IsDevelopment())
}
