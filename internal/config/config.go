package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Credentials  CredentialsConfig  `json:"credentials"`
	Actuation    ActuationConfig    `json:"actuation"`
	Broker       BrokerConfig       `json:"broker"`
	Signal       SignalConfig       `json:"signal"`
	Policy       PolicyConfig       `json:"policy"`
	LLM          LLMConfig          `json:"llm"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Storage      StorageConfig      `json:"storage"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
}

type CredentialsConfig struct {
	UserToken          string `json:"user_token"`
	HumanApprovalToken string `json:"human_approval_token"`
}

type ActuationConfig struct {
	URL       string `json:"url"`
	HTTPAddr  string `json:"http_addr"`
	TimeoutMS int    `json:"timeout_ms"`
}

type BrokerConfig struct {
	BaseURL     string `json:"base_url"`
	Service     string `json:"service"`
	ServicePath string `json:"service_path"`
	TimeoutMS   int    `json:"timeout_ms"`
}

type SignalConfig struct {
	EntityID string `json:"entity_id"`
	Location string `json:"location"`
}

type PolicyConfig struct {
	OPAURL        string `json:"opa_url"`
	PolicyPackage string `json:"policy_package"`
}

type LLMConfig struct {
	Provider        string   `json:"provider"`
	APIKey          string   `json:"api_key"`
	APIBase         string   `json:"api_base"`
	Model           string   `json:"model"`
	TimeoutMS       int      `json:"timeout_ms"`
	MaxOutputTokens int      `json:"max_output_tokens"`
	RedactPatterns  []string `json:"redact_patterns"`
}

type OrchestratorConfig struct {
	TemporalAddr string `json:"temporal_addr"`
	Namespace    string `json:"namespace"`
	TaskQueue    string `json:"task_queue"`
}

type StorageConfig struct {
	PostgresDSN string `json:"postgres_dsn"`
}

type SchedulerConfig struct {
	Enabled          bool            `json:"enabled"`
	PollIntervalSecs int             `json:"poll_interval_secs"`
	Entries          []ScheduleEntry `json:"entries"`
}

// ScheduleEntry fires a canned scenario on a five-field cron expression.
type ScheduleEntry struct {
	ID       string `json:"id"`
	Cron     string `json:"cron"`
	Scenario string `json:"scenario"`
}

// Defaults mirrors the development setup: a local actuation endpoint on
// :8000 and an Orion broker on :1026.
func Defaults() Config {
	return Config{
		Credentials: CredentialsConfig{
			UserToken:          "user-token",
			HumanApprovalToken: "human-approval-token",
		},
		Actuation: ActuationConfig{
			URL:       "http://localhost:8000/mcp",
			HTTPAddr:  ":8000",
			TimeoutMS: 10000,
		},
		Broker: BrokerConfig{
			BaseURL:     "http://localhost:1026",
			Service:     "openiot",
			ServicePath: "/",
			TimeoutMS:   10000,
		},
		Signal: SignalConfig{
			EntityID: "TrafficSignal:001",
			Location: "Avenue 1",
		},
		Orchestrator: OrchestratorConfig{
			Namespace: "default",
			TaskQueue: "traffic-plans",
		},
		Scheduler: SchedulerConfig{PollIntervalSecs: 30},
	}
}

// LoadConfig reads an optional JSON file over Defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from the environment variables the services
// have always honoured.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("USER_TOKEN", &c.Credentials.UserToken)
	set("HUMAN_APPROVAL_TOKEN", &c.Credentials.HumanApprovalToken)
	set("MCP_SERVER_URL", &c.Actuation.URL)
	set("TRAFFIC_SIGNAL_ID", &c.Signal.EntityID)
	set("ORION_BASE_URL", &c.Broker.BaseURL)
	set("ORION_FIWARE_SERVICE", &c.Broker.Service)
	set("ORION_FIWARE_SERVICE_PATH", &c.Broker.ServicePath)
	set("OPA_URL", &c.Policy.OPAURL)
	set("POSTGRES_DSN", &c.Storage.PostgresDSN)
	set("TEMPORAL_ADDR", &c.Orchestrator.TemporalAddr)
	if port, ok := lookup("MCP_PORT"); ok && strings.TrimSpace(port) != "" {
		c.Actuation.HTTPAddr = ":" + strings.TrimSpace(port)
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Credentials.UserToken) == "" {
		return errors.New("credentials.user_token required")
	}
	if strings.TrimSpace(c.Credentials.HumanApprovalToken) == "" {
		return errors.New("credentials.human_approval_token required")
	}
	if strings.TrimSpace(c.Actuation.URL) == "" {
		return errors.New("actuation.url required")
	}
	if strings.TrimSpace(c.Signal.EntityID) == "" {
		return errors.New("signal.entity_id required")
	}
	if strings.TrimSpace(c.Policy.OPAURL) != "" && strings.TrimSpace(c.Policy.PolicyPackage) == "" {
		return errors.New("policy.policy_package required when policy.opa_url is set")
	}
	if strings.TrimSpace(c.LLM.Provider) != "" {
		if strings.TrimSpace(c.LLM.Model) == "" {
			return errors.New("llm.model required when llm.provider is set")
		}
		p := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
		if p != "openai" && p != "anthropic" {
			return errors.New("llm.provider must be openai or anthropic")
		}
	}
	if strings.TrimSpace(c.Orchestrator.TemporalAddr) != "" && strings.TrimSpace(c.Orchestrator.TaskQueue) == "" {
		return errors.New("orchestrator.task_queue required when orchestrator.temporal_addr is set")
	}
	for i, entry := range c.Scheduler.Entries {
		if strings.TrimSpace(entry.Cron) == "" || strings.TrimSpace(entry.Scenario) == "" {
			return fmt.Errorf("scheduler.entries[%d] requires cron and scenario", i)
		}
	}
	return nil
}

// ActuationTimeout is the bound on each actuation round-trip.
func (c Config) ActuationTimeout() time.Duration {
	return millis(c.Actuation.TimeoutMS, 10*time.Second)
}

func (c Config) BrokerTimeout() time.Duration {
	return millis(c.Broker.TimeoutMS, 10*time.Second)
}

func (c Config) LLMTimeout() time.Duration {
	return millis(c.LLM.TimeoutMS, 30*time.Second)
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) SchedulerPollInterval() time.Duration {
	if c.Scheduler.PollIntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Scheduler.PollIntervalSecs) * time.Second
}
