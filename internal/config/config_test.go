package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, 3, cfg.MaxJobsPerUser)
	assert.Equal(t, 10*time.Second, cfg.MongoTimeout)
	assert.Equal(t, model.OracleNone, cfg.OracleProvider)
	assert.Equal(t, model.NotifyWebhook, cfg.NotifyProvider)
	assert.Equal(t, model.NotOpenRetry, cfg.DefaultNotOpenAction)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{
		"STORE_DRIVER":       "memory",
		"MAX_JOBS_PER_USER":  "5",
		"ORACLE_PROVIDER":    "HTTP",
		"ORACLE_ENDPOINT":    "http://oracle.local/answer",
		"ADMISSION_LOCK_TTL": "1m",
	}})
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.MaxJobsPerUser)
	assert.Equal(t, model.OracleHTTP, cfg.OracleProvider)
	assert.Equal(t, time.Minute, cfg.AdmissionLockTTL)
}

func TestParseRejectsUnknownProviders(t *testing.T) {
	_, err := parse(env.Options{Environment: map[string]string{"ORACLE_PROVIDER": "magic"}})
	assert.Error(t, err)

	_, err = parse(env.Options{Environment: map[string]string{"NOTIFY_PROVIDER": "pigeon"}})
	assert.Error(t, err)

	_, err = parse(env.Options{Environment: map[string]string{"STORE_DRIVER": "postgres"}})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := parse(env.Options{Environment: map[string]string{"MAX_JOBS_PER_USER": "0"}})
	assert.Error(t, err)

	_, err = parse(env.Options{Environment: map[string]string{"ORACLE_PROVIDER": "http"}})
	assert.Error(t, err)
}
