package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/scenario"
)

func noEnv(string) (string, bool) { return "", false }

func TestBuildScenarioConfigDefaults(t *testing.T) {
	cfg, level, err := buildScenarioConfig(options{}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, scenario.DefaultConfig(), cfg)
	assert.Equal(t, logger.LevelInfo, level)
}

func TestBuildScenarioConfigLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	content := `
workload:
  users: 4
  db_name: from-file
  log_level: warn
  weights:
    migration: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	env := map[string]string{
		"DB_NAME":          "from-env",
		"MIGRATION_WEIGHT": "2",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg, level, err := buildScenarioConfig(options{
		configFile: path,
		presetName: "read-heavy",
		duration:   time.Minute,
		users:      8,
		backend:    "mongo",
		uri:        "mongodb://mongos:27017",
		logLevel:   "debug",
	}, lookup)
	require.NoError(t, err)

	assert.Equal(t, "read-heavy", cfg.Name)
	assert.Equal(t, 6, cfg.Weights.Find)
	assert.Equal(t, 2, cfg.Weights.Migration)
	assert.Equal(t, "from-env", cfg.Namespace.Database)
	assert.Equal(t, 8, cfg.Users)
	assert.Equal(t, time.Minute, cfg.Duration)
	assert.Equal(t, scenario.BackendMongo, cfg.Backend)
	assert.Equal(t, "mongodb://mongos:27017", cfg.ClusterURL)
	assert.Equal(t, logger.LevelDebug, level)
}

func TestBuildScenarioConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		opts   options
		lookup func(string) (string, bool)
	}{
		{"unknown preset", options{presetName: "nope"}, noEnv},
		{"missing file", options{configFile: "/nonexistent/workload.yaml"}, noEnv},
		{"bad env", options{}, func(key string) (string, bool) {
			if key == "INSERT_WEIGHT" {
				return "many", true
			}
			return "", false
		}},
		{"negative env weight", options{}, func(key string) (string, bool) {
			if key == "FIND_WEIGHT" {
				return "-1", true
			}
			return "", false
		}},
		{"bad backend", options{backend: "sqlite"}, noEnv},
		{"bad log level", options{logLevel: "loud"}, noEnv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildScenarioConfig(tt.opts, tt.lookup)
			assert.Error(t, err)
		})
	}
}
