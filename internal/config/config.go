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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// configFileUsed is the path to the config file that was loaded (empty if none)
	configFileUsed string

	// TimeZone is the IANA zone cron schedules are evaluated in
	TimeZone string `mapstructure:"time_zone"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// HTTPServer configuration
	HTTPServer HTTPServerConfig `mapstructure:"http_server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Queue configuration
	Queue QueueConfig `mapstructure:"queue"`

	// Controller configuration
	Controller ControllerConfig `mapstructure:"controller"`

	// Executor configuration
	Executor ExecutorConfig `mapstructure:"executor"`

	// Reactions configuration
	Reactions ReactionsConfig `mapstructure:"reactions"`

	// MaxIssuesCreation caps how many issues a single search may create
	MaxIssuesCreation int `mapstructure:"max_issues_creation"`

	// MonitorsLoadSchedule is the cron schedule for reloading monitors
	MonitorsLoadSchedule string `mapstructure:"monitors_load_schedule"`

	// LoadSampleMonitors registers the bundled sample monitors on startup
	LoadSampleMonitors bool `mapstructure:"load_sample_monitors"`

	// HeartbeatTime is the interval between application heartbeats
	HeartbeatTime time.Duration `mapstructure:"heartbeat_time"`

	// LogAllEvents logs every event, even ones no reaction subscribes to
	LogAllEvents bool `mapstructure:"log_all_events"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	// Mode is the log format (friendly, json)
	Mode string `mapstructure:"mode" json:"mode"`
}

// HTTPServerConfig configures the HTTP API server
type HTTPServerConfig struct {
	// Port for the HTTP server
	Port int `mapstructure:"port" json:"port"`
}

// DatabaseConfig configures the application database
type DatabaseConfig struct {
	// Dialect is the database backend (sqlite, postgres, mysql)
	Dialect string `mapstructure:"dialect" json:"dialect"`

	// DSN is the connection string for the chosen dialect
	DSN string `mapstructure:"dsn" json:"-"`

	// PoolSize is the maximum number of open connections
	PoolSize int `mapstructure:"pool_size" json:"pool_size"`

	// MaxIdleConnections is the maximum number of idle connections
	MaxIdleConnections int `mapstructure:"max_idle_connections" json:"max_idle_connections"`

	// ConnectionMaxLifetime is the maximum lifetime of a connection
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime" json:"connection_max_lifetime"`
}

// QueueConfig configures the message queue between controller and executors
type QueueConfig struct {
	// Type is the queue backend (internal, sqs)
	Type string `mapstructure:"type" json:"type"`

	// Name is the SQS queue name
	Name string `mapstructure:"name" json:"name,omitempty"`

	// URL is the SQS queue URL (discovered from Name when empty)
	URL string `mapstructure:"url" json:"url,omitempty"`

	// Region is the AWS region for the SQS queue
	Region string `mapstructure:"region" json:"region,omitempty"`

	// CreateQueue allows creating the SQS queue when it doesn't exist
	CreateQueue bool `mapstructure:"create_queue" json:"create_queue"`

	// WaitMessageTime is how long a receive waits for a message
	WaitMessageTime time.Duration `mapstructure:"wait_message_time" json:"wait_message_time"`

	// VisibilityTime is the base redelivery window for in-flight messages
	VisibilityTime time.Duration `mapstructure:"visibility_time" json:"visibility_time"`
}

// ControllerConfig configures the controller role
type ControllerConfig struct {
	// ProcessSchedule is the cron schedule for the trigger loop
	ProcessSchedule string `mapstructure:"process_schedule" json:"process_schedule"`

	// Concurrency bounds how many monitors are processed in parallel per tick
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`

	// Procedures maps procedure names to their schedules and parameters
	Procedures map[string]ProcedureConfig `mapstructure:"procedures" json:"procedures"`
}

// ProcedureConfig configures one controller procedure
type ProcedureConfig struct {
	// Schedule is the procedure's cron expression
	Schedule string `mapstructure:"schedule" json:"schedule"`

	// Params are passed to the procedure on every run
	Params map[string]any `mapstructure:"params" json:"params,omitempty"`
}

// ExecutorConfig configures the executor role
type ExecutorConfig struct {
	// Concurrency is the number of queue worker goroutines
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`

	// Sleep is how long a worker idles after an empty receive
	Sleep time.Duration `mapstructure:"sleep" json:"sleep"`

	// MonitorTimeout bounds each monitor search and update routine
	MonitorTimeout time.Duration `mapstructure:"monitor_timeout" json:"monitor_timeout"`

	// ReactionTimeout bounds each reaction invocation
	ReactionTimeout time.Duration `mapstructure:"reaction_timeout" json:"reaction_timeout"`

	// RequestTimeout bounds each action request
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	// MonitorHeartbeatTime is the interval between monitor heartbeat writes
	MonitorHeartbeatTime time.Duration `mapstructure:"monitor_heartbeat_time" json:"monitor_heartbeat_time"`
}

// ReactionsConfig configures the bundled notification channels
type ReactionsConfig struct {
	// MinPriority is the least severe alert priority that is notified
	MinPriority string `mapstructure:"min_priority" json:"min_priority"`

	// Slack configures the Slack channel, enabled when webhook_url is set
	Slack SlackNotifierConfig `mapstructure:"slack" json:"slack"`

	// Webhook configures the generic webhook channel, enabled when url is set
	Webhook WebhookNotifierConfig `mapstructure:"webhook" json:"webhook"`

	// Email configures the email channel, enabled when smtp_host is set
	Email EmailNotifierConfig `mapstructure:"email" json:"email"`

	// PagerDuty configures the PagerDuty channel, enabled when routing_key is set
	PagerDuty PagerDutyNotifierConfig `mapstructure:"pagerduty" json:"pagerduty"`
}

// SlackNotifierConfig configures the Slack notification channel
type SlackNotifierConfig struct {
	// WebhookURL is the Slack incoming-webhook endpoint
	WebhookURL string `mapstructure:"webhook_url" json:"-"`

	// Channel overrides the webhook's default channel when set
	Channel string `mapstructure:"channel" json:"channel,omitempty"`

	// MessageTemplate overrides the default message template
	MessageTemplate string `mapstructure:"message_template" json:"-"`

	// MaxPerHour caps notifications sent per hour
	MaxPerHour int `mapstructure:"max_per_hour" json:"max_per_hour"`

	// Burst is the rate limiter burst size
	Burst int `mapstructure:"burst" json:"burst"`
}

// WebhookNotifierConfig configures the generic webhook channel
type WebhookNotifierConfig struct {
	// URL is the webhook endpoint
	URL string `mapstructure:"url" json:"-"`

	// Method is the HTTP method, POST when empty
	Method string `mapstructure:"method" json:"method,omitempty"`

	// Headers are added to every request
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`

	// PayloadTemplate overrides the default JSON payload template
	PayloadTemplate string `mapstructure:"payload_template" json:"-"`

	// MaxPerHour caps notifications sent per hour
	MaxPerHour int `mapstructure:"max_per_hour" json:"max_per_hour"`

	// Burst is the rate limiter burst size
	Burst int `mapstructure:"burst" json:"burst"`
}

// EmailNotifierConfig configures the email notification channel
type EmailNotifierConfig struct {
	// SMTPHost is the SMTP server host
	SMTPHost string `mapstructure:"smtp_host" json:"smtp_host,omitempty"`

	// SMTPPort is the SMTP server port
	SMTPPort int `mapstructure:"smtp_port" json:"smtp_port,omitempty"`

	// Username authenticates against the SMTP server
	Username string `mapstructure:"username" json:"-"`

	// Password authenticates against the SMTP server
	Password string `mapstructure:"password" json:"-"`

	// From is the sender address
	From string `mapstructure:"from" json:"from,omitempty"`

	// To are the recipient addresses
	To []string `mapstructure:"to" json:"to,omitempty"`

	// SubjectTemplate overrides the default subject template
	SubjectTemplate string `mapstructure:"subject_template" json:"-"`

	// BodyTemplate overrides the default body template
	BodyTemplate string `mapstructure:"body_template" json:"-"`

	// MaxPerHour caps notifications sent per hour
	MaxPerHour int `mapstructure:"max_per_hour" json:"max_per_hour"`

	// Burst is the rate limiter burst size
	Burst int `mapstructure:"burst" json:"burst"`
}

// PagerDutyNotifierConfig configures the PagerDuty notification channel
type PagerDutyNotifierConfig struct {
	// RoutingKey is the Events API v2 integration key
	RoutingKey string `mapstructure:"routing_key" json:"-"`

	// Severity overrides the severity derived from the alert priority
	Severity string `mapstructure:"severity" json:"severity,omitempty"`

	// MaxPerHour caps notifications sent per hour
	MaxPerHour int `mapstructure:"max_per_hour" json:"max_per_hour"`

	// Burst is the rate limiter burst size
	Burst int `mapstructure:"burst" json:"burst"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		TimeZone: "UTC",
		Logging: LoggingConfig{
			Mode: "friendly",
		},
		HTTPServer: HTTPServerConfig{
			Port: 8000,
		},
		Database: DatabaseConfig{
			Dialect:               "sqlite",
			DSN:                   "sentinela.db",
			PoolSize:              10,
			MaxIdleConnections:    5,
			ConnectionMaxLifetime: 30 * time.Minute,
		},
		Queue: QueueConfig{
			Type:            "internal",
			CreateQueue:     false,
			WaitMessageTime: 2 * time.Second,
			VisibilityTime:  15 * time.Second,
		},
		Controller: ControllerConfig{
			ProcessSchedule: "* * * * *",
			Concurrency:     10,
			Procedures: map[string]ProcedureConfig{
				"monitors_stuck": {
					Schedule: "*/5 * * * *",
					Params:   map[string]any{"time_tolerance": 300},
				},
				"clean_events": {
					Schedule: "0 3 * * *",
					Params:   map[string]any{"retention_days": 30},
				},
				"notifications_alert_solved": {
					Schedule: "*/5 * * * *",
				},
			},
		},
		Executor: ExecutorConfig{
			Concurrency:          2,
			Sleep:                2 * time.Second,
			MonitorTimeout:       60 * time.Second,
			ReactionTimeout:      5 * time.Second,
			RequestTimeout:       5 * time.Second,
			MonitorHeartbeatTime: 5 * time.Second,
		},
		Reactions: ReactionsConfig{
			MinPriority: "informational",
			Slack:       SlackNotifierConfig{MaxPerHour: 100, Burst: 10},
			Webhook:     WebhookNotifierConfig{Method: "POST", MaxPerHour: 100, Burst: 10},
			Email:       EmailNotifierConfig{SMTPPort: 587, MaxPerHour: 100, Burst: 10},
			PagerDuty:   PagerDutyNotifierConfig{MaxPerHour: 100, Burst: 10},
		},
		MaxIssuesCreation:    100,
		MonitorsLoadSchedule: "*/5 * * * *",
		LoadSampleMonitors:   false,
		HeartbeatTime:        1 * time.Second,
		LogAllEvents:         false,
	}
}

// BindFlags binds configuration flags to pflags
func BindFlags(flags *pflag.FlagSet) {
	// Top-level
	flags.String("config", "", "Path to config file")
	flags.String("time_zone", "UTC", "Time zone cron schedules are evaluated in")
	flags.String("logging.mode", "friendly", "Log format (friendly, json)")

	// HTTP server
	flags.Int("http_server.port", 8000, "HTTP server port")

	// Database
	flags.String("database.dialect", "sqlite", "Database backend (sqlite, postgres, mysql)")
	flags.String("database.dsn", "sentinela.db", "Database connection string")
	flags.Int("database.pool_size", 10, "Maximum open database connections")
	flags.Int("database.max_idle_connections", 5, "Maximum idle database connections")
	flags.Duration("database.connection_max_lifetime", 30*time.Minute, "Maximum lifetime of a database connection")

	// Queue
	flags.String("queue.type", "internal", "Queue backend (internal, sqs)")
	flags.String("queue.name", "", "SQS queue name")
	flags.String("queue.url", "", "SQS queue URL (discovered from name when empty)")
	flags.String("queue.region", "", "AWS region for the SQS queue")
	flags.Bool("queue.create_queue", false, "Create the SQS queue when it doesn't exist")
	flags.Duration("queue.wait_message_time", 2*time.Second, "How long a receive waits for a message")
	flags.Duration("queue.visibility_time", 15*time.Second, "Base redelivery window for in-flight messages")

	// Controller
	flags.String("controller.process_schedule", "* * * * *", "Cron schedule for the controller trigger loop")
	flags.Int("controller.concurrency", 10, "Monitors processed in parallel per controller tick")

	// Executor
	flags.Int("executor.concurrency", 2, "Number of executor worker goroutines")
	flags.Duration("executor.sleep", 2*time.Second, "Worker idle time after an empty receive")
	flags.Duration("executor.monitor_timeout", 60*time.Second, "Timeout for each monitor search and update routine")
	flags.Duration("executor.reaction_timeout", 5*time.Second, "Timeout for each reaction invocation")
	flags.Duration("executor.request_timeout", 5*time.Second, "Timeout for each action request")
	flags.Duration("executor.monitor_heartbeat_time", 5*time.Second, "Interval between monitor heartbeat writes")

	// Reactions
	flags.String("reactions.min_priority", "informational", "Least severe alert priority that is notified")
	flags.String("reactions.slack.webhook_url", "", "Slack incoming-webhook URL (empty disables the channel)")
	flags.String("reactions.webhook.url", "", "Generic webhook URL (empty disables the channel)")
	flags.String("reactions.email.smtp_host", "", "SMTP host for email notifications (empty disables the channel)")
	flags.String("reactions.pagerduty.routing_key", "", "PagerDuty routing key (empty disables the channel)")

	// Pipeline
	flags.Int("max_issues_creation", 100, "Maximum issues a single search may create")
	flags.String("monitors_load_schedule", "*/5 * * * *", "Cron schedule for reloading monitors")
	flags.Bool("load_sample_monitors", false, "Register the bundled sample monitors on startup")
	flags.Duration("heartbeat_time", 1*time.Second, "Interval between application heartbeats")
	flags.Bool("log_all_events", false, "Log every event, even ones no reaction subscribes to")
}

// Load loads configuration from flags, environment, and config file
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults from DefaultConfig
	defaults := DefaultConfig()
	v.SetDefault("time_zone", defaults.TimeZone)
	v.SetDefault("logging.mode", defaults.Logging.Mode)
	v.SetDefault("http_server.port", defaults.HTTPServer.Port)
	v.SetDefault("database.dialect", defaults.Database.Dialect)
	v.SetDefault("database.dsn", defaults.Database.DSN)
	v.SetDefault("database.pool_size", defaults.Database.PoolSize)
	v.SetDefault("database.max_idle_connections", defaults.Database.MaxIdleConnections)
	v.SetDefault("database.connection_max_lifetime", defaults.Database.ConnectionMaxLifetime)
	v.SetDefault("queue.type", defaults.Queue.Type)
	v.SetDefault("queue.name", defaults.Queue.Name)
	v.SetDefault("queue.url", defaults.Queue.URL)
	v.SetDefault("queue.region", defaults.Queue.Region)
	v.SetDefault("queue.create_queue", defaults.Queue.CreateQueue)
	v.SetDefault("queue.wait_message_time", defaults.Queue.WaitMessageTime)
	v.SetDefault("queue.visibility_time", defaults.Queue.VisibilityTime)
	v.SetDefault("controller.process_schedule", defaults.Controller.ProcessSchedule)
	v.SetDefault("controller.concurrency", defaults.Controller.Concurrency)
	// Plain maps so viper flattens the defaults into per-procedure keys,
	// letting a config file override one procedure without hiding the rest.
	v.SetDefault("controller.procedures", lo.MapEntries(defaults.Controller.Procedures,
		func(name string, p ProcedureConfig) (string, any) {
			return name, map[string]any{"schedule": p.Schedule, "params": p.Params}
		}))
	v.SetDefault("executor.concurrency", defaults.Executor.Concurrency)
	v.SetDefault("executor.sleep", defaults.Executor.Sleep)
	v.SetDefault("executor.monitor_timeout", defaults.Executor.MonitorTimeout)
	v.SetDefault("executor.reaction_timeout", defaults.Executor.ReactionTimeout)
	v.SetDefault("executor.request_timeout", defaults.Executor.RequestTimeout)
	v.SetDefault("executor.monitor_heartbeat_time", defaults.Executor.MonitorHeartbeatTime)
	v.SetDefault("reactions.min_priority", defaults.Reactions.MinPriority)
	v.SetDefault("reactions.slack.webhook_url", defaults.Reactions.Slack.WebhookURL)
	v.SetDefault("reactions.slack.channel", defaults.Reactions.Slack.Channel)
	v.SetDefault("reactions.slack.message_template", defaults.Reactions.Slack.MessageTemplate)
	v.SetDefault("reactions.slack.max_per_hour", defaults.Reactions.Slack.MaxPerHour)
	v.SetDefault("reactions.slack.burst", defaults.Reactions.Slack.Burst)
	v.SetDefault("reactions.webhook.url", defaults.Reactions.Webhook.URL)
	v.SetDefault("reactions.webhook.method", defaults.Reactions.Webhook.Method)
	v.SetDefault("reactions.webhook.payload_template", defaults.Reactions.Webhook.PayloadTemplate)
	v.SetDefault("reactions.webhook.max_per_hour", defaults.Reactions.Webhook.MaxPerHour)
	v.SetDefault("reactions.webhook.burst", defaults.Reactions.Webhook.Burst)
	v.SetDefault("reactions.email.smtp_host", defaults.Reactions.Email.SMTPHost)
	v.SetDefault("reactions.email.smtp_port", defaults.Reactions.Email.SMTPPort)
	v.SetDefault("reactions.email.username", defaults.Reactions.Email.Username)
	v.SetDefault("reactions.email.password", defaults.Reactions.Email.Password)
	v.SetDefault("reactions.email.from", defaults.Reactions.Email.From)
	v.SetDefault("reactions.email.to", defaults.Reactions.Email.To)
	v.SetDefault("reactions.email.subject_template", defaults.Reactions.Email.SubjectTemplate)
	v.SetDefault("reactions.email.body_template", defaults.Reactions.Email.BodyTemplate)
	v.SetDefault("reactions.email.max_per_hour", defaults.Reactions.Email.MaxPerHour)
	v.SetDefault("reactions.email.burst", defaults.Reactions.Email.Burst)
	v.SetDefault("reactions.pagerduty.routing_key", defaults.Reactions.PagerDuty.RoutingKey)
	v.SetDefault("reactions.pagerduty.severity", defaults.Reactions.PagerDuty.Severity)
	v.SetDefault("reactions.pagerduty.max_per_hour", defaults.Reactions.PagerDuty.MaxPerHour)
	v.SetDefault("reactions.pagerduty.burst", defaults.Reactions.PagerDuty.Burst)
	v.SetDefault("max_issues_creation", defaults.MaxIssuesCreation)
	v.SetDefault("monitors_load_schedule", defaults.MonitorsLoadSchedule)
	v.SetDefault("load_sample_monitors", defaults.LoadSampleMonitors)
	v.SetDefault("heartbeat_time", defaults.HeartbeatTime)
	v.SetDefault("log_all_events", defaults.LogAllEvents)

	// Bind flags
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	// Environment variables
	v.SetEnvPrefix("SENTINELA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file: --config flag wins, then the CONFIGS_FILE environment
	// variable, then the default search paths
	var configFileUsed string
	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile == "" {
		configFile = os.Getenv("CONFIGS_FILE")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		configFileUsed = v.ConfigFileUsed()
	} else {
		// Try default locations
		v.SetConfigName("configs")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sentinela")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			configFileUsed = v.ConfigFileUsed()
		}
		// Ignore error if no config file found - will use defaults
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store which config file was used (empty string if none)
	cfg.configFileUsed = configFileUsed

	return cfg, nil
}

// ConfigFileUsed returns the path to the config file that was loaded (empty if none)
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}
