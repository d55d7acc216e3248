/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Default Values Tests
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "UTC", cfg.TimeZone)
	assert.Equal(t, "friendly", cfg.Logging.Mode)
	assert.Equal(t, 8000, cfg.HTTPServer.Port)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, "sentinela.db", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, 5, cfg.Database.MaxIdleConnections)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnectionMaxLifetime)

	// Queue defaults
	assert.Equal(t, "internal", cfg.Queue.Type)
	assert.False(t, cfg.Queue.CreateQueue)
	assert.Equal(t, 2*time.Second, cfg.Queue.WaitMessageTime)
	assert.Equal(t, 15*time.Second, cfg.Queue.VisibilityTime)

	// Controller defaults
	assert.Equal(t, "* * * * *", cfg.Controller.ProcessSchedule)
	assert.Equal(t, 10, cfg.Controller.Concurrency)
	require.Contains(t, cfg.Controller.Procedures, "monitors_stuck")
	assert.Equal(t, "*/5 * * * *", cfg.Controller.Procedures["monitors_stuck"].Schedule)
	assert.Equal(t, 300, cfg.Controller.Procedures["monitors_stuck"].Params["time_tolerance"])
	require.Contains(t, cfg.Controller.Procedures, "clean_events")
	assert.Equal(t, 30, cfg.Controller.Procedures["clean_events"].Params["retention_days"])
	require.Contains(t, cfg.Controller.Procedures, "notifications_alert_solved")

	// Executor defaults
	assert.Equal(t, 2, cfg.Executor.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Executor.Sleep)
	assert.Equal(t, 60*time.Second, cfg.Executor.MonitorTimeout)
	assert.Equal(t, 5*time.Second, cfg.Executor.ReactionTimeout)
	assert.Equal(t, 5*time.Second, cfg.Executor.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Executor.MonitorHeartbeatTime)

	// Pipeline defaults
	assert.Equal(t, 100, cfg.MaxIssuesCreation)
	assert.Equal(t, "*/5 * * * *", cfg.MonitorsLoadSchedule)
	assert.False(t, cfg.LoadSampleMonitors)
	assert.Equal(t, 1*time.Second, cfg.HeartbeatTime)
	assert.False(t, cfg.LogAllEvents)
}

func TestLoad_DefaultValues(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.TimeZone)
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, "internal", cfg.Queue.Type)
	assert.Equal(t, 2, cfg.Executor.Concurrency)
	assert.Equal(t, "", cfg.ConfigFileUsed())
}

// ============================================================================
// YAML File Loading Tests
// ============================================================================

func TestLoad_YAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "configs.yaml")

	yamlContent := `
time_zone: America/Sao_Paulo
logging:
  mode: json
http_server:
  port: 9000
database:
  dialect: postgres
  dsn: "host=localhost user=sentinela dbname=sentinela"
  pool_size: 20
  max_idle_connections: 8
  connection_max_lifetime: 1h
queue:
  type: sqs
  name: sentinela-queue
  region: us-east-1
  create_queue: true
  wait_message_time: 5s
  visibility_time: 30s
controller:
  process_schedule: "*/2 * * * *"
  concurrency: 4
  procedures:
    monitors_stuck:
      schedule: "*/10 * * * *"
      params:
        time_tolerance: 600
executor:
  concurrency: 8
  sleep: 1s
  monitor_timeout: 2m
  reaction_timeout: 10s
  request_timeout: 3s
  monitor_heartbeat_time: 2s
max_issues_creation: 50
monitors_load_schedule: "*/1 * * * *"
load_sample_monitors: true
heartbeat_time: 2s
log_all_events: true
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0600)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	err = flags.Set("config", configPath)
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "America/Sao_Paulo", cfg.TimeZone)
	assert.Equal(t, "json", cfg.Logging.Mode)
	assert.Equal(t, 9000, cfg.HTTPServer.Port)

	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "host=localhost user=sentinela dbname=sentinela", cfg.Database.DSN)
	assert.Equal(t, 20, cfg.Database.PoolSize)
	assert.Equal(t, 8, cfg.Database.MaxIdleConnections)
	assert.Equal(t, time.Hour, cfg.Database.ConnectionMaxLifetime)

	assert.Equal(t, "sqs", cfg.Queue.Type)
	assert.Equal(t, "sentinela-queue", cfg.Queue.Name)
	assert.Equal(t, "us-east-1", cfg.Queue.Region)
	assert.True(t, cfg.Queue.CreateQueue)
	assert.Equal(t, 5*time.Second, cfg.Queue.WaitMessageTime)
	assert.Equal(t, 30*time.Second, cfg.Queue.VisibilityTime)

	assert.Equal(t, "*/2 * * * *", cfg.Controller.ProcessSchedule)
	assert.Equal(t, 4, cfg.Controller.Concurrency)
	require.Contains(t, cfg.Controller.Procedures, "monitors_stuck")
	assert.Equal(t, "*/10 * * * *", cfg.Controller.Procedures["monitors_stuck"].Schedule)
	assert.EqualValues(t, 600, cfg.Controller.Procedures["monitors_stuck"].Params["time_tolerance"])

	assert.Equal(t, 8, cfg.Executor.Concurrency)
	assert.Equal(t, 1*time.Second, cfg.Executor.Sleep)
	assert.Equal(t, 2*time.Minute, cfg.Executor.MonitorTimeout)
	assert.Equal(t, 10*time.Second, cfg.Executor.ReactionTimeout)
	assert.Equal(t, 3*time.Second, cfg.Executor.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Executor.MonitorHeartbeatTime)

	assert.Equal(t, 50, cfg.MaxIssuesCreation)
	assert.Equal(t, "*/1 * * * *", cfg.MonitorsLoadSchedule)
	assert.True(t, cfg.LoadSampleMonitors)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatTime)
	assert.True(t, cfg.LogAllEvents)

	assert.Equal(t, configPath, cfg.ConfigFileUsed())
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "configs.yaml")

	invalidYAML := `
time_zone: UTC
queue:
  type: [invalid yaml
    - missing bracket
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0600)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	err = flags.Set("config", configPath)
	require.NoError(t, err)

	_, err = Load(flags)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_NonExistentConfigFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	err := flags.Set("config", "/nonexistent/path/configs.yaml")
	require.NoError(t, err)

	_, err = Load(flags)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_ConfigsFileEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "from-env.yaml")

	yamlContent := `
http_server:
  port: 8123
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0600)
	require.NoError(t, err)

	t.Setenv("CONFIGS_FILE", configPath)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.HTTPServer.Port)
	assert.Equal(t, configPath, cfg.ConfigFileUsed())
}

// ============================================================================
// CLI Flags Override Tests
// ============================================================================

func TestLoad_Flags(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "configs.yaml")

	yamlContent := `
time_zone: UTC
database:
  dialect: sqlite
http_server:
  port: 8000
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0600)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	err = flags.Set("config", configPath)
	require.NoError(t, err)
	err = flags.Set("time_zone", "Europe/Lisbon")
	require.NoError(t, err)
	err = flags.Set("http_server.port", "9999")
	require.NoError(t, err)
	err = flags.Set("database.dialect", "postgres")
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)

	// Flags should override YAML values
	assert.Equal(t, "Europe/Lisbon", cfg.TimeZone)
	assert.Equal(t, 9999, cfg.HTTPServer.Port)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
}

func TestLoad_Flags_AllExecutorOptions(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	err := flags.Set("executor.concurrency", "6")
	require.NoError(t, err)
	err = flags.Set("executor.sleep", "500ms")
	require.NoError(t, err)
	err = flags.Set("executor.monitor_timeout", "90s")
	require.NoError(t, err)
	err = flags.Set("executor.reaction_timeout", "7s")
	require.NoError(t, err)
	err = flags.Set("executor.request_timeout", "9s")
	require.NoError(t, err)
	err = flags.Set("executor.monitor_heartbeat_time", "3s")
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Executor.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Executor.Sleep)
	assert.Equal(t, 90*time.Second, cfg.Executor.MonitorTimeout)
	assert.Equal(t, 7*time.Second, cfg.Executor.ReactionTimeout)
	assert.Equal(t, 9*time.Second, cfg.Executor.RequestTimeout)
	assert.Equal(t, 3*time.Second, cfg.Executor.MonitorHeartbeatTime)
}

func TestLoad_Flags_QueueOptions(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	err := flags.Set("queue.type", "sqs")
	require.NoError(t, err)
	err = flags.Set("queue.name", "my-queue")
	require.NoError(t, err)
	err = flags.Set("queue.region", "eu-west-1")
	require.NoError(t, err)
	err = flags.Set("queue.create_queue", "true")
	require.NoError(t, err)
	err = flags.Set("queue.wait_message_time", "4s")
	require.NoError(t, err)
	err = flags.Set("queue.visibility_time", "45s")
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "sqs", cfg.Queue.Type)
	assert.Equal(t, "my-queue", cfg.Queue.Name)
	assert.Equal(t, "eu-west-1", cfg.Queue.Region)
	assert.True(t, cfg.Queue.CreateQueue)
	assert.Equal(t, 4*time.Second, cfg.Queue.WaitMessageTime)
	assert.Equal(t, 45*time.Second, cfg.Queue.VisibilityTime)
}

// ============================================================================
// Environment Variable Tests
// ============================================================================

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SENTINELA_TIME_ZONE", "Asia/Tokyo")
	t.Setenv("SENTINELA_DATABASE_DIALECT", "mysql")
	t.Setenv("SENTINELA_HTTP_SERVER_PORT", "8888")
	t.Setenv("SENTINELA_MAX_ISSUES_CREATION", "25")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "Asia/Tokyo", cfg.TimeZone)
	assert.Equal(t, "mysql", cfg.Database.Dialect)
	assert.Equal(t, 8888, cfg.HTTPServer.Port)
	assert.Equal(t, 25, cfg.MaxIssuesCreation)
}

func TestLoad_Environment_OverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "configs.yaml")

	yamlContent := `
time_zone: UTC
database:
  dialect: sqlite
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0600)
	require.NoError(t, err)

	t.Setenv("SENTINELA_TIME_ZONE", "America/New_York")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	err = flags.Set("config", configPath)
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)

	// Environment should override YAML
	assert.Equal(t, "America/New_York", cfg.TimeZone)
	// But YAML value for the dialect should remain
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
}

// ============================================================================
// Database Dialect Tests
// ============================================================================

func TestLoad_DatabaseDialects(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
	}{
		{"sqlite", "sqlite"},
		{"postgres", "postgres"},
		{"mysql", "mysql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			BindFlags(flags)
			err := flags.Set("database.dialect", tt.dialect)
			require.NoError(t, err)

			cfg, err := Load(flags)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, cfg.Database.Dialect)
		})
	}
}

// ============================================================================
// Config File Used Tests
// ============================================================================

func TestConfigFileUsed(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sentinela-configs.yaml")

	yamlContent := `time_zone: UTC`
	err := os.WriteFile(configPath, []byte(yamlContent), 0600)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	err = flags.Set("config", configPath)
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, configPath, cfg.ConfigFileUsed())
}

// ============================================================================
// BindFlags Tests
// ============================================================================

func TestBindFlags_AllFlagsRegistered(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	expectedFlags := []string{
		"config",
		"time_zone",
		"logging.mode",
		"http_server.port",
		"database.dialect",
		"database.dsn",
		"database.pool_size",
		"database.max_idle_connections",
		"database.connection_max_lifetime",
		"queue.type",
		"queue.name",
		"queue.url",
		"queue.region",
		"queue.create_queue",
		"queue.wait_message_time",
		"queue.visibility_time",
		"controller.process_schedule",
		"controller.concurrency",
		"executor.concurrency",
		"executor.sleep",
		"executor.monitor_timeout",
		"executor.reaction_timeout",
		"executor.request_timeout",
		"executor.monitor_heartbeat_time",
		"max_issues_creation",
		"monitors_load_schedule",
		"load_sample_monitors",
		"heartbeat_time",
		"log_all_events",
	}

	for _, flagName := range expectedFlags {
		flag := flags.Lookup(flagName)
		assert.NotNil(t, flag, "Flag %s should be registered", flagName)
	}
}
