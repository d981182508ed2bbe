package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

// Workflow names accepted under the workflows: key.
const (
	WorkflowPullShark          = "pull_shark"
	WorkflowQuickdraw          = "quickdraw"
	WorkflowPairExtraordinaire = "pair_extraordinaire"
	WorkflowGalaxyBrain        = "galaxy_brain"
	WorkflowYolo               = "yolo"
)

// WorkflowNames lists every workflow this build knows, in run order.
func WorkflowNames() []string {
	return []string{
		WorkflowPullShark,
		WorkflowQuickdraw,
		WorkflowPairExtraordinaire,
		WorkflowGalaxyBrain,
		WorkflowYolo,
	}
}

// Duration is a yaml-friendly wrapper around time.Duration so the file can
// say "90s" or "2m" directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Repository RepositoryConfig          `yaml:"repository"`
	Accounts   AccountsConfig            `yaml:"accounts"`
	RateLimit  RateLimitConfig           `yaml:"rate_limit"`
	Store      StoreConfig               `yaml:"store"`
	Server     ServerConfig              `yaml:"server"`
	GRPC       GRPCConfig                `yaml:"grpc"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	Notify     NotifyConfig              `yaml:"notify"`
	DryRun     bool                      `yaml:"dry_run"`
	Workflows  map[string]WorkflowConfig `yaml:"workflows"`
}

type RepositoryConfig struct {
	Owner      string `yaml:"owner"`
	Name       string `yaml:"name"`
	Private    bool   `yaml:"private"`
	APIBaseURL string `yaml:"api_base_url"`
}

type AccountsConfig struct {
	Primary   AccountConfig `yaml:"primary"`
	Secondary AccountConfig `yaml:"secondary"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
}

func (a AccountConfig) Configured() bool { return a.Username != "" && a.Token != "" }

type RateLimitConfig struct {
	Buffer      int      `yaml:"buffer"`
	MinInterval Duration `yaml:"min_interval"`
}

type StoreConfig struct {
	Backend   string         `yaml:"backend"`
	Path      string         `yaml:"path"`
	BackupDir string         `yaml:"backup_dir"`
	Postgres  PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GRPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type WorkflowConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Thresholds []int    `yaml:"thresholds"`
	BatchSize  int      `yaml:"batch_size"`
	StepDelay  Duration `yaml:"step_delay"`
	BatchDelay Duration `yaml:"batch_delay"`
	Reviewer   string   `yaml:"reviewer"`
	TimeLimit  Duration `yaml:"time_limit"`
}

func Default() Config {
	return Config{
		Repository: RepositoryConfig{
			Name:    "badge-workbench",
			Private: true,
		},
		RateLimit: RateLimitConfig{
			Buffer:      100,
			MinInterval: Duration(1 * time.Second),
		},
		Store: StoreConfig{
			Backend:   "file",
			Path:      "progress.json",
			BackupDir: "progress-backups",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8100,
		},
		GRPC: GRPCConfig{
			Host: "0.0.0.0",
			Port: 9114,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "badgehunter",
		},
		Workflows: map[string]WorkflowConfig{
			WorkflowPullShark: {
				Enabled:    true,
				Thresholds: []int{2, 16, 128, 1024},
				BatchSize:  10,
				StepDelay:  Duration(2 * time.Second),
				BatchDelay: Duration(30 * time.Second),
			},
			WorkflowQuickdraw: {
				Enabled:   true,
				TimeLimit: Duration(5 * time.Minute),
			},
			WorkflowPairExtraordinaire: {
				Enabled:    true,
				Thresholds: []int{10, 24, 48},
				StepDelay:  Duration(2 * time.Second),
			},
			WorkflowGalaxyBrain: {
				Enabled:    true,
				Thresholds: []int{8, 16, 32, 64},
				StepDelay:  Duration(2 * time.Second),
			},
			WorkflowYolo: {
				Enabled: true,
			},
		},
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references so tokens can live in the
// environment instead of the file. Unset variables expand to empty.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else {
			data = expandEnv(data)
			if err := validateSchema(data); err != nil {
				return cfg, err
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_REPO_OWNER")); v != "" {
		cfg.Repository.Owner = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_REPO_NAME")); v != "" {
		cfg.Repository.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_PRIMARY_USERNAME")); v != "" {
		cfg.Accounts.Primary.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_PRIMARY_TOKEN")); v != "" {
		cfg.Accounts.Primary.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_SECONDARY_USERNAME")); v != "" {
		cfg.Accounts.Secondary.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_SECONDARY_TOKEN")); v != "" {
		cfg.Accounts.Secondary.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_STORE_PATH")); v != "" {
		cfg.Store.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_PG_DSN")); v != "" {
		cfg.Store.Backend = "postgres"
		cfg.Store.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_WEBHOOK_URL")); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_SERVER_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_GRPC_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.GRPC.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("BADGEHUNTER_DRY_RUN")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = parsed
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the semantic constraints the schema cannot express.
func (c Config) Validate() error {
	if !c.DryRun {
		if !c.Accounts.Primary.Configured() {
			return errors.New("accounts.primary requires both username and token")
		}
		if c.Repository.Owner == "" {
			return errors.New("repository.owner is required")
		}
	}
	if c.Repository.Name == "" {
		return errors.New("repository.name is required")
	}
	if c.RateLimit.Buffer < 0 {
		return errors.New("rate_limit.buffer must not be negative")
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the file backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	for name, wf := range c.Workflows {
		switch name {
		case WorkflowPullShark, WorkflowQuickdraw, WorkflowPairExtraordinaire, WorkflowGalaxyBrain, WorkflowYolo:
		default:
			return fmt.Errorf("unknown workflow %q", name)
		}
		for i := 1; i < len(wf.Thresholds); i++ {
			if wf.Thresholds[i] <= wf.Thresholds[i-1] {
				return fmt.Errorf("workflow %q thresholds must be strictly increasing", name)
			}
		}
	}
	return nil
}

// Workflow returns the effective settings for a workflow, falling back to
// built-in defaults when the file omits the entry.
func (c Config) Workflow(name string) WorkflowConfig {
	if wf, ok := c.Workflows[name]; ok {
		return wf
	}
	return Default().Workflows[name]
}

func Module(path string) fx.Option {
	return fx.Provide(func() (Config, error) {
		return Load(path)
	})
}
