package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/config"
	"genflow/internal/model"
)

func TestParse(t *testing.T) {
	tests := map[string]struct {
		args   []string
		env    map[string]string
		exp    func(t *testing.T, cfg *config.Config)
		expErr bool
	}{
		"Without flags the defaults should be used.": {
			args: []string{"--store=memory"},
			exp: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "0.0.0.0:7070", cfg.Server.Addr)
				assert.Equal(t, config.ModeHTTP, cfg.Mode)
				assert.Equal(t, "info", cfg.Log.Level)
				assert.Equal(t, "text", cfg.Log.Format)
				assert.Equal(t, 10*time.Second, cfg.Poller.CompletionInterval)
				assert.Equal(t, 5*time.Second, cfg.Poller.StatusInterval)
				assert.Equal(t, []model.TaskType{"stitch", "travel_stitch", "single_image"}, cfg.Poller.SideEffectTypes)
				assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
				assert.False(t, cfg.Notification.Bark.Enabled)
			},
		},
		"Environment variables should be used.": {
			args: []string{},
			env: map[string]string{
				"GENFLOW_STORE":                    "memory",
				"GENFLOW_MODE":                     "both",
				"GENFLOW_COMPLETION_POLL_INTERVAL": "2s",
				"GENFLOW_SIDE_EFFECT_TYPES":        "stitch, single_image",
			},
			exp: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.StoreMemory, cfg.Store)
				assert.Equal(t, config.ModeBoth, cfg.Mode)
				assert.Equal(t, 2*time.Second, cfg.Poller.CompletionInterval)
				assert.Equal(t, []model.TaskType{"stitch", "single_image"}, cfg.Poller.SideEffectTypes)
			},
		},
		"Flags should take precedence over the environment.": {
			args: []string{"--addr=127.0.0.1:9000", "--state-dir=/tmp/genflow-test"},
			env:  map[string]string{"GENFLOW_ADDR": "0.0.0.0:1"},
			exp: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
				assert.Equal(t, "/tmp/genflow-test", cfg.StateDir)
				assert.Equal(t, config.StoreSQLite, cfg.Store)
			},
		},
		"An unknown mode should fail.": {
			args:   []string{"--store=memory", "--mode=grpc"},
			expErr: true,
		},
		"Enabling bark without url should fail.": {
			args:   []string{"--store=memory", "--bark-enabled"},
			expErr: true,
		},
		"An empty side effect type list should fail.": {
			args:   []string{"--store=memory", "--side-effect-types= , "},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("XDG_CONFIG_HOME", t.TempDir())
			t.Setenv("HOME", t.TempDir())
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			cfg, err := config.Parse(test.args)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.exp(t, cfg)
		})
	}
}
