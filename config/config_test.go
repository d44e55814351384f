package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("MONGODB_DATABASE", "crm")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, LedgerMongo, cfg.LedgerDriver)
	assert.Equal(t, 300*time.Millisecond, cfg.SendMinInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RecipientDelay)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.RetryMaxWait)
	assert.Equal(t, 500, cfg.ErrorTextLimit)
	assert.Equal(t, "@every 30s", cfg.DispatchSchedule)
	assert.Equal(t, "ru", cfg.DefaultLanguage)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/var/lib/crm/ledger.db")
	t.Setenv("RECIPIENT_DELAY", "1s")
	t.Setenv("OPERATOR_CHAT_ID", "-100123")
	t.Setenv("DISPATCH_RATE", "0.5")

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, LedgerSQLite, cfg.LedgerDriver)
	assert.Equal(t, time.Second, cfg.RecipientDelay)
	assert.Equal(t, int64(-100123), cfg.OperatorChatID)
	assert.Equal(t, 0.5, cfg.DispatchRate)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token":   {"TELEGRAM_BOT_TOKEN": ""},
		"missing uri":     {"MONGODB_URI": ""},
		"unknown ledger":  {"LEDGER_DRIVER": "redis"},
		"zero workers":    {"DISPATCH_WORKERS": "0"},
		"no attempts":     {"RETRY_MAX_ATTEMPTS": "0"},
		"negative delay":  {"RECIPIENT_DELAY": "-1s"},
		"malformed delay": {"RECIPIENT_DELAY": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(context.Background())
			assert.Error(t, err)
		})
	}
}
