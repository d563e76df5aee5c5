/*
Copyright 2025 Silo Authors.

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
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "9000"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SecretKey string `json:"secret_key" envconfig:"SILO_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"SILO_SERVER_PORT"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SILO_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SILO_REDIS_SKIP_TLS_VERIFY"`
}

type DestinationConfig struct {
	Url     string `json:"url" envconfig:"SILO_DESTINATION_URL"`
	ApiKey  string `json:"api_key" envconfig:"SILO_DESTINATION_API_KEY"`
	Timeout int    `json:"timeout" envconfig:"SILO_DESTINATION_TIMEOUT"`
}

type QueueConfig struct {
	MigrationQueue   string `json:"migration_queue" envconfig:"SILO_QUEUE_MIGRATION"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"SILO_QUEUE_WEBHOOK"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"SILO_QUEUE_MONITORING_PORT"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"SILO_QUEUE_MAX_RETRY_ATTEMPTS"`
	// BatchStaggerMs spaces out the transform messages fanned out for one job
	// so a large job does not burst the destination API.
	BatchStaggerMs int `json:"batch_stagger_ms" envconfig:"SILO_QUEUE_BATCH_STAGGER_MS"`
	// RequeueDelayMs is how long a batch that lost the lock race waits before
	// its message is retried.
	RequeueDelayMs int `json:"requeue_delay_ms" envconfig:"SILO_QUEUE_REQUEUE_DELAY_MS"`
	// DedupIntervalMs is the default coalescing window for store tasks.
	DedupIntervalMs int `json:"dedup_interval_ms" envconfig:"SILO_QUEUE_DEDUP_INTERVAL_MS"`
}

type RateLimitConfig struct {
	RequestsPerSecond *float64 `json:"requests_per_second" envconfig:"SILO_RATE_LIMIT_RPS"`
	Burst             *int     `json:"burst" envconfig:"SILO_RATE_LIMIT_BURST"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"SILO_PROJECT_NAME"`
	Server       ServerConfig      `json:"server"`
	Redis        RedisConfig       `json:"redis"`
	Destination  DestinationConfig `json:"destination"`
	Queue        QueueConfig       `json:"queue"`
	Notification Notification      `json:"notification"`
	RateLimit    RateLimitConfig   `json:"rate_limit"`
}

// BatchStagger returns the configured fan-out stagger as a duration.
func (cnf *Configuration) BatchStagger() time.Duration {
	return time.Duration(cnf.Queue.BatchStaggerMs) * time.Millisecond
}

// RequeueDelay returns the lock-contention requeue delay as a duration.
func (cnf *Configuration) RequeueDelay() time.Duration {
	return time.Duration(cnf.Queue.RequeueDelayMs) * time.Millisecond
}

// DedupInterval returns the default webhook coalescing window as a duration.
func (cnf *Configuration) DedupInterval() time.Duration {
	return time.Duration(cnf.Queue.DedupIntervalMs) * time.Millisecond
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("silo", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called silo.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Silo Server"
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Destination.Url == "" {
		log.Println("Error: Destination URL is empty. It's a required field.")
		return errors.New("destination URL is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Destination.Url = strings.TrimSpace(cnf.Destination.Url)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.MigrationQueue == "" {
		cnf.Queue.MigrationQueue = "silo:migration"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "silo:webhook"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "9090"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.BatchStaggerMs <= 0 {
		cnf.Queue.BatchStaggerMs = 500
	}
	if cnf.Queue.RequeueDelayMs <= 0 {
		cnf.Queue.RequeueDelayMs = 2000
	}
	if cnf.Queue.DedupIntervalMs <= 0 {
		cnf.Queue.DedupIntervalMs = 5000
	}
	if cnf.Destination.Timeout <= 0 {
		cnf.Destination.Timeout = 30
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Queue.MigrationQueue == "" {
		mockConfig.Queue.MigrationQueue = "silo:migration"
	}
	if mockConfig.Queue.WebhookQueue == "" {
		mockConfig.Queue.WebhookQueue = "silo:webhook"
	}
	if mockConfig.Queue.MaxRetryAttempts <= 0 {
		mockConfig.Queue.MaxRetryAttempts = 5
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
