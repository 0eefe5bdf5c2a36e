/*
Copyright 2024 Blnk Finance Authors.

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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT        = "5001"
	DEFAULT_VERSION     = "1.3.0"
	DEFAULT_WINDOW      = 365
	DEFAULT_CHUNK       = 5000
	DEFAULT_COMPRESSION = 0.2
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"LABSYNC_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"LABSYNC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"LABSYNC_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"LABSYNC_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"LABSYNC_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"LABSYNC_SERVER_PORT"`
}

type StagingConfig struct {
	Path string `json:"path" envconfig:"LABSYNC_STAGING_PATH"`
}

// SourceConfig points at the lab database. Columns lists, in order, the expressions
// selected for: patient_id, facility_code, collected_on, received_on, processed_on,
// result, rejected, rejection_reason, reject_reason_other, birthdate, child_age, sex,
// mother_age, health_worker, health_worker_title, verified, care_clinic_no. "NULL" is
// allowed for columns the lab does not track.
type SourceConfig struct {
	Driver     string            `json:"driver" envconfig:"LABSYNC_SOURCE_DRIVER"`
	Dns        string            `json:"dns" envconfig:"LABSYNC_SOURCE_DNS"`
	Table      string            `json:"table" envconfig:"LABSYNC_SOURCE_TABLE"`
	IDColumn   string            `json:"id_column" envconfig:"LABSYNC_SOURCE_ID_COLUMN"`
	DateColumn string            `json:"date_column" envconfig:"LABSYNC_SOURCE_DATE_COLUMN"`
	Columns    []string          `json:"columns"`
	ResultMap  map[string]string `json:"result_map"`
}

type WindowConfig struct {
	Result     int `json:"result" envconfig:"LABSYNC_WINDOW_RESULT"`
	Unresolved int `json:"unresolved" envconfig:"LABSYNC_WINDOW_UNRESOLVED"`
	Testing    int `json:"testing" envconfig:"LABSYNC_WINDOW_TESTING"`
}

type TransportConfig struct {
	SubmitURL          string  `json:"submit_url" envconfig:"LABSYNC_SUBMIT_URL"`
	User               string  `json:"user" envconfig:"LABSYNC_SUBMIT_USER"`
	Password           string  `json:"password" envconfig:"LABSYNC_SUBMIT_PASSWORD"`
	ChunkBytes         int     `json:"chunk_bytes" envconfig:"LABSYNC_CHUNK_BYTES"`
	Compress           bool    `json:"compress" envconfig:"LABSYNC_COMPRESS"`
	CompressionFactor  float64 `json:"compression_factor" envconfig:"LABSYNC_COMPRESSION_FACTOR"`
	AlwaysOnConnection *bool   `json:"always_on_connection" envconfig:"LABSYNC_ALWAYS_ON_CONNECTION"`
	TimeoutSec         int     `json:"timeout_sec" envconfig:"LABSYNC_SUBMIT_TIMEOUT_SEC"`
}

// RetryConfig holds wait schedules between attempts. DBAccess is in minutes, the
// others in seconds.
type RetryConfig struct {
	DBAccess        []int `json:"db_access"`
	Send            []int `json:"send"`
	UnsyncedRecords []int `json:"unsynced_records"`
	SyncFlag        []int `json:"sync_flag"`
}

type LockConfig struct {
	TaskPath         string `json:"task_path" envconfig:"LABSYNC_TASK_LOCK"`
	DaemonPath       string `json:"daemon_path" envconfig:"LABSYNC_DAEMON_LOCK"`
	PollFrequencySec int    `json:"poll_frequency_sec"`
	Polls            int    `json:"polls"`
	MaxRuntimeSec    int    `json:"max_runtime_sec"`
}

type DaemonConfig struct {
	PollIntervalSec int `json:"poll_interval_sec"`
	MaxClockJumpSec int `json:"max_clock_jump_sec"`
	MaxFaults       int `json:"max_faults"`
}

type LogConfig struct {
	Path       string `json:"path" envconfig:"LABSYNC_LOG_PATH"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console" envconfig:"LABSYNC_LOG_CONSOLE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"LABSYNC_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"LABSYNC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"LABSYNC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"LABSYNC_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type TelemetryConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"LABSYNC_TELEMETRY_ENABLED"`
	Endpoint string `json:"endpoint" envconfig:"LABSYNC_TELEMETRY_ENDPOINT"`
	Insecure bool   `json:"insecure" envconfig:"LABSYNC_TELEMETRY_INSECURE"`
}

type Configuration struct {
	SourceTag    string          `json:"source_tag" envconfig:"LABSYNC_SOURCE_TAG"`
	Version      string          `json:"version" envconfig:"LABSYNC_VERSION"`
	Staging      StagingConfig   `json:"staging"`
	Source       SourceConfig    `json:"source"`
	Facilities   []string        `json:"facilities" envconfig:"LABSYNC_FACILITIES"`
	Windows      WindowConfig    `json:"windows"`
	InitLookback string          `json:"init_lookback" envconfig:"LABSYNC_INIT_LOOKBACK"`
	Transport    TransportConfig `json:"transport"`
	Retries      RetryConfig     `json:"retries"`
	Schedule     []string        `json:"schedule" envconfig:"LABSYNC_SCHEDULE"`
	Locks        LockConfig      `json:"locks"`
	Daemon       DaemonConfig    `json:"daemon"`
	Log          LogConfig       `json:"log"`
	Server       ServerConfig    `json:"server"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Notification Notification    `json:"notification"`
	Telemetry    TelemetryConfig `json:"telemetry"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("labsync", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called labsync.json with your config ❌")
	}
	return c, nil
}

// AlwaysOn reports whether the host has a permanent internet link. Defaults to true.
func (t TransportConfig) AlwaysOn() bool {
	return t.AlwaysOnConnection == nil || *t.AlwaysOnConnection
}

func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

// LookbackDate parses InitLookback; the zero time means archiving is disabled.
func (cnf *Configuration) LookbackDate() (time.Time, error) {
	if cnf.InitLookback == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", cnf.InitLookback, time.Local)
}

func (cnf *Configuration) validate() error {
	err := validation.ValidateStruct(&cnf.Source,
		validation.Field(&cnf.Source.Driver, validation.Required, validation.In("mysql", "postgres", "sqlite3")),
		validation.Field(&cnf.Source.Dns, validation.Required),
		validation.Field(&cnf.Source.Table, validation.Required),
		validation.Field(&cnf.Source.IDColumn, validation.Required),
		validation.Field(&cnf.Source.Columns, validation.Required, validation.Length(sourceColumnCount, sourceColumnCount)),
	)
	if err != nil {
		return err
	}

	err = validation.ValidateStruct(&cnf.Transport,
		validation.Field(&cnf.Transport.SubmitURL, validation.Required),
		validation.Field(&cnf.Transport.ChunkBytes, validation.Min(1)),
		validation.Field(&cnf.Transport.CompressionFactor, validation.Min(0.01), validation.Max(1.0)),
	)
	if err != nil {
		return err
	}

	return validation.Validate(cnf.InitLookback, validation.When(cnf.InitLookback != "", validation.Date("2006-01-02")))
}

// number of expressions a source row is built from
const sourceColumnCount = 17

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.SourceTag == "" {
		log.Println("Warning: Source tag is empty. Setting a default tag.")
		cnf.SourceTag = "labsync"
	}
	if cnf.Version == "" {
		cnf.Version = DEFAULT_VERSION
	}

	// Trim white spaces from fields
	cnf.SourceTag = strings.TrimSpace(cnf.SourceTag)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Source.Dns = strings.TrimSpace(cnf.Source.Dns)
	cnf.Transport.SubmitURL = strings.TrimSpace(cnf.Transport.SubmitURL)
	cnf.InitLookback = strings.TrimSpace(cnf.InitLookback)

	if cnf.Source.Dns == "" {
		log.Println("Error: Source DNS is empty. It's a required field.")
		return errors.New("source DNS is required")
	}
	if cnf.Transport.SubmitURL == "" {
		log.Println("Error: Submit URL is empty. It's a required field.")
		return errors.New("submit URL is required")
	}

	if cnf.Source.Driver == "" {
		cnf.Source.Driver = "mysql"
	}
	if cnf.Source.Table == "" {
		cnf.Source.Table = "pcr_logbook"
	}
	if cnf.Source.IDColumn == "" {
		cnf.Source.IDColumn = "serial_no"
	}
	if cnf.Source.DateColumn == "" {
		cnf.Source.DateColumn = "pcr_report_date"
	}
	if len(cnf.Source.Columns) == 0 {
		cnf.Source.Columns = defaultSourceColumns()
	}
	if len(cnf.Source.ResultMap) == 0 {
		cnf.Source.ResultMap = defaultResultMap()
	}
	lowered := make(map[string]string, len(cnf.Source.ResultMap))
	for k, v := range cnf.Source.ResultMap {
		lowered[strings.ToLower(k)] = v
	}
	cnf.Source.ResultMap = lowered

	if cnf.Staging.Path == "" {
		cnf.Staging.Path = "labsync_staging.db3"
	}

	if cnf.Windows.Result == 0 {
		cnf.Windows.Result = DEFAULT_WINDOW
	}
	if cnf.Windows.Unresolved == 0 {
		cnf.Windows.Unresolved = DEFAULT_WINDOW
	}
	if cnf.Windows.Testing == 0 {
		cnf.Windows.Testing = DEFAULT_WINDOW
	}

	if cnf.Transport.ChunkBytes == 0 {
		cnf.Transport.ChunkBytes = DEFAULT_CHUNK
	}
	if cnf.Transport.CompressionFactor == 0 {
		cnf.Transport.CompressionFactor = DEFAULT_COMPRESSION
	}
	if cnf.Transport.TimeoutSec == 0 {
		cnf.Transport.TimeoutSec = 120
	}

	if cnf.Retries.DBAccess == nil {
		cnf.Retries.DBAccess = []int{2, 3, 5, 5, 10}
	}
	if cnf.Retries.Send == nil {
		cnf.Retries.Send = []int{0, 0, 0, 30, 30, 30, 60, 120, 300, 300}
	}
	if cnf.Retries.UnsyncedRecords == nil {
		cnf.Retries.UnsyncedRecords = []int{30, 60, 120}
	}
	if cnf.Retries.SyncFlag == nil {
		cnf.Retries.SyncFlag = []int{30, 30}
	}

	if cnf.Schedule == nil {
		cnf.Schedule = []string{"0930", "1310", "1400", "1630", "1730"}
	}

	if cnf.Locks.TaskPath == "" {
		cnf.Locks.TaskPath = "task.lock"
	}
	if cnf.Locks.DaemonPath == "" {
		cnf.Locks.DaemonPath = "daemon.lock"
	}
	if cnf.Locks.PollFrequencySec == 0 {
		cnf.Locks.PollFrequencySec = 20
	}
	if cnf.Locks.Polls == 0 {
		cnf.Locks.Polls = 6
	}
	if cnf.Locks.MaxRuntimeSec == 0 {
		cnf.Locks.MaxRuntimeSec = 7200
	}

	if cnf.Daemon.PollIntervalSec == 0 {
		cnf.Daemon.PollIntervalSec = 10
	}
	if cnf.Daemon.MaxClockJumpSec == 0 {
		cnf.Daemon.MaxClockJumpSec = 300
	}
	if cnf.Daemon.MaxFaults == 0 {
		cnf.Daemon.MaxFaults = 30
	}

	if cnf.Log.Path == "" {
		cnf.Log.Path = "extract.log"
	}
	if cnf.Log.MaxSizeMB == 0 {
		cnf.Log.MaxSizeMB = 1
	}
	if cnf.Log.MaxBackups == 0 {
		cnf.Log.MaxBackups = 2
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
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
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return cnf.validate()
}

func defaultSourceColumns() []string {
	return []string{
		"patient_id",
		"fac_id",
		"NULL",
		"NULL",
		"pcr_report_date",
		"result",
		"NULL",
		"comments",
		"NULL",
		"NULL",
		"NULL",
		"NULL",
		"NULL",
		"NULL",
		"NULL",
		"verified",
		"care_clinic_no",
	}
}

// keys are matched lower-cased; values are "+", "-", "?", "rejected" or "" (no result)
func defaultResultMap() map[string]string {
	return map[string]string{
		"positive":      "+",
		"neg":           "-",
		"negative":      "-",
		"invalid":       "",
		" ":             "",
		"idn":           "?",
		"ind":           "?",
		"indeterminate": "?",
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
