package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// GameSchema fixes the numeric shape of one lottery product.
type GameSchema struct {
	MainNumbers  int      `yaml:"main_numbers"`
	BonusNumbers int      `yaml:"bonus_numbers"`
	Divisions    int      `yaml:"divisions"`
	DrawDays     []string `yaml:"draw_days,omitempty"`
}

// DrawGroup is a set of games drawn from the same physical event. Member
// order is the reconciliation priority order: when sources disagree on the
// draw number, the first member that has one wins.
type DrawGroup struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type GateConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
}

type CaptureConfig struct {
	BaseURL       string `yaml:"base_url"`
	Attempts      int    `yaml:"attempts"`
	TimeoutSec    int    `yaml:"timeout"`
	TimeoutStep   int    `yaml:"timeout_step"`
	RetrySleepSec int    `yaml:"retry_sleep"`
	MinBytes      int64  `yaml:"min_bytes"`
	ArtifactDir   string `yaml:"artifact_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type ExtractionConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	Attempts  int    `yaml:"attempts"`
	BackoffMS int    `yaml:"backoff_ms"`
}

// Job is one scheduled trigger of the pipeline. At is local wall-clock
// "HH:MM"; Days restricts firing to the listed weekdays (empty = daily).
// Games restricts the run to a subset of the catalogue (empty = all).
type Job struct {
	Name  string   `yaml:"name"`
	At    string   `yaml:"at"`
	Days  []string `yaml:"days,omitempty"`
	Games []string `yaml:"games,omitempty"`
}

type ScheduleConfig struct {
	RunTimeoutMin int   `yaml:"run_timeout_min"`
	Jobs          []Job `yaml:"jobs"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type WebhookConfig struct {
	URLs      []string `yaml:"urls,omitempty"`
	SecretEnv string   `yaml:"secret_env,omitempty"`
}

// Config models snaplotto.yml.
type Config struct {
	Games      map[string]GameSchema `yaml:"games"`
	Groups     GroupsConfig          `yaml:"groups"`
	Gate       GateConfig            `yaml:"gate"`
	Capture    CaptureConfig         `yaml:"capture"`
	Extraction ExtractionConfig      `yaml:"extraction"`
	Schedule   ScheduleConfig        `yaml:"schedule"`
	Server     ServerConfig          `yaml:"server"`
	Webhooks   WebhookConfig         `yaml:"webhooks"`
}

// GroupsConfig carries the draw groups plus an explicit version so the
// priority policy is auditable rather than inferred at runtime.
type GroupsConfig struct {
	Version int         `yaml:"version"`
	Sets    []DrawGroup `yaml:"sets"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with snaplotto config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the defaults when no
// snaplotto.yml exists yet.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(workspace)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Games) == 0 {
		return fmt.Errorf("config.games is required")
	}
	for name, g := range c.Games {
		if name == "" {
			return fmt.Errorf("config.games contains an empty game id")
		}
		if g.MainNumbers < 5 || g.MainNumbers > 6 {
			return fmt.Errorf("game %s: main_numbers must be 5 or 6", name)
		}
		if g.BonusNumbers < 0 || g.BonusNumbers > 1 {
			return fmt.Errorf("game %s: bonus_numbers must be 0 or 1", name)
		}
	}
	if c.Groups.Version <= 0 {
		return fmt.Errorf("config.groups.version is required")
	}
	seen := map[string]string{}
	for _, grp := range c.Groups.Sets {
		if grp.Name == "" {
			return fmt.Errorf("draw group without name")
		}
		if len(grp.Members) < 2 {
			return fmt.Errorf("draw group %s needs at least two members", grp.Name)
		}
		for _, m := range grp.Members {
			if _, ok := c.Games[m]; !ok {
				return fmt.Errorf("draw group %s references unknown game %s", grp.Name, m)
			}
			if prev, dup := seen[m]; dup {
				return fmt.Errorf("game %s is in groups %s and %s", m, prev, grp.Name)
			}
			seen[m] = grp.Name
		}
	}
	if c.Gate.MinConfidence < 0 || c.Gate.MinConfidence > 100 {
		return fmt.Errorf("gate.min_confidence must be within 0-100")
	}
	if c.Capture.Attempts <= 0 {
		return fmt.Errorf("capture.attempts must be positive")
	}
	if c.Extraction.Provider == "" || c.Extraction.Model == "" {
		return fmt.Errorf("extraction.provider and extraction.model are required")
	}
	names := map[string]bool{}
	for _, j := range c.Schedule.Jobs {
		if j.Name == "" {
			return fmt.Errorf("schedule job without name")
		}
		if names[j.Name] {
			return fmt.Errorf("duplicate schedule job %s", j.Name)
		}
		names[j.Name] = true
		if _, err := time.Parse("15:04", j.At); err != nil {
			return fmt.Errorf("schedule job %s: invalid time %q", j.Name, j.At)
		}
		for _, d := range j.Days {
			if _, err := parseWeekday(d); err != nil {
				return fmt.Errorf("schedule job %s: %w", j.Name, err)
			}
		}
		for _, g := range j.Games {
			if _, ok := c.Games[g]; !ok {
				return fmt.Errorf("schedule job %s references unknown game %s", j.Name, g)
			}
		}
	}
	return nil
}

func parseWeekday(d string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if d == wd.String() || d == wd.String()[:3] {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", d)
}

// Weekdays resolves a job's day list; empty means every day.
func (j Job) Weekdays() map[time.Weekday]bool {
	out := map[time.Weekday]bool{}
	if len(j.Days) == 0 {
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			out[wd] = true
		}
		return out
	}
	for _, d := range j.Days {
		if wd, err := parseWeekday(d); err == nil {
			out[wd] = true
		}
	}
	return out
}

// GameNames returns the configured games in stable order.
func (c *Config) GameNames() []string {
	names := make([]string, 0, len(c.Games))
	for name := range c.Games {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupFor returns the draw group containing the game, if any.
func (c *Config) GroupFor(game string) (DrawGroup, bool) {
	for _, grp := range c.Groups.Sets {
		for _, m := range grp.Members {
			if m == game {
				return grp, true
			}
		}
	}
	return DrawGroup{}, false
}

// Job returns the named schedule job.
func (c *Config) Job(name string) (Job, bool) {
	for _, j := range c.Schedule.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "snaplotto.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `games:
  lotto:
    main_numbers: 6
    bonus_numbers: 1
    divisions: 8
    draw_days: [Wed, Sat]
  lotto-plus-1:
    main_numbers: 6
    bonus_numbers: 1
    divisions: 8
    draw_days: [Wed, Sat]
  lotto-plus-2:
    main_numbers: 6
    bonus_numbers: 1
    divisions: 8
    draw_days: [Wed, Sat]
  powerball:
    main_numbers: 5
    bonus_numbers: 1
    divisions: 9
    draw_days: [Tue, Fri]
  powerball-plus:
    main_numbers: 5
    bonus_numbers: 1
    divisions: 9
    draw_days: [Tue, Fri]
  daily-lotto:
    main_numbers: 5
    bonus_numbers: 0
    divisions: 4

groups:
  version: 1
  sets:
    - name: lotto
      members: [lotto, lotto-plus-1, lotto-plus-2]
    - name: powerball
      members: [powerball, powerball-plus]

gate:
  min_confidence: 95

capture:
  base_url: http://127.0.0.1:9100
  attempts: 3
  timeout: 20
  timeout_step: 10
  retry_sleep: 2
  min_bytes: 10240
  artifact_dir: screenshots
  retention_days: 14

extraction:
  provider: gemini
  model: gemini-2.0-flash
  api_key_env: GEMINI_API_KEY
  attempts: 3
  backoff_ms: 500

schedule:
  run_timeout_min: 30
  jobs:
    - name: daily-ingest
      at: "21:30"
    - name: weekly-sweep
      at: "03:00"
      days: [Sun]

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
