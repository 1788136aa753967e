package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/tidectl/internal/analysis"
	"github.com/danmuck/tidectl/internal/rollout"
	"github.com/danmuck/tidectl/internal/scheduler"
	"github.com/danmuck/tidectl/internal/state"
)

type EngineConfig struct {
	Name        string              `toml:"name"`
	Addr        string              `toml:"addr"`
	AuthToken   string              `toml:"auth_token"`
	CorsOrigins []string            `toml:"cors_origins"`
	DataDir     string              `toml:"data_dir"`
	Cluster     ClusterConfig       `toml:"cluster"`
	Provider    ProviderConfig      `toml:"provider"`
	Apps        []ApplicationConfig `toml:"apps"`
}

type ClusterConfig struct {
	Addr    string `toml:"addr"`
	Timeout string `toml:"timeout"`
}

type ProviderConfig struct {
	Kind    string `toml:"kind"`
	Address string `toml:"address"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
}

type ApplicationConfig struct {
	Name      string           `toml:"name"`
	Repo      string           `toml:"repo"`
	Path      string           `toml:"path"`
	Revision  string           `toml:"revision"`
	Cluster   string           `toml:"cluster"`
	Namespace string           `toml:"namespace"`
	Mode      string           `toml:"mode"`
	Prune     bool             `toml:"prune"`
	SelfHeal  bool             `toml:"self_heal"`
	Windows   []WindowConfig   `toml:"windows"`
	Rollout   *RolloutConfig   `toml:"rollout"`
	Analysis  []AnalysisMetric `toml:"analysis"`
}

type WindowConfig struct {
	Kind  string   `toml:"kind"`
	Days  []string `toml:"days"`
	Start string   `toml:"start"`
	End   string   `toml:"end"`
}

type RolloutConfig struct {
	Workload         string `toml:"workload"`
	Steps            []int  `toml:"steps"`
	Dwell            string `toml:"dwell"`
	FailureThreshold int    `toml:"failure_threshold"`
	Policy           string `toml:"policy"`
}

type AnalysisMetric struct {
	Name       string   `toml:"name"`
	Expr       string   `toml:"expr"`
	Window     string   `toml:"window"`
	MinSamples int      `toml:"min_samples"`
	Reducer    string   `toml:"reducer"`
	Min        *float64 `toml:"min"`
	Max        *float64 `toml:"max"`
	MaxRate    *float64 `toml:"max_rate"`
}

func LoadEngineConfig(path string) (EngineConfig, error) {
	var cfg EngineConfig
	if err := loadToml(path, &cfg); err != nil {
		return EngineConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "tide-ctl"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9300"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./tidectl-data"
	}
	for i := range cfg.Apps {
		if cfg.Apps[i].Mode == "" {
			cfg.Apps[i].Mode = state.SyncModeAutomatic
		}
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("engine config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("engine config missing addr")
	}
	switch strings.TrimSpace(cfg.Provider.Kind) {
	case "", "none", "prometheus", "influx":
	default:
		return fmt.Errorf("unknown provider kind: %s", cfg.Provider.Kind)
	}
	seen := map[string]bool{}
	for i, app := range cfg.Apps {
		if err := ValidateApplication(app); err != nil {
			return fmt.Errorf("app[%d] invalid: %w", i, err)
		}
		if seen[app.Name] {
			return fmt.Errorf("app[%d] duplicate name: %s", i, app.Name)
		}
		seen[app.Name] = true
	}
	return nil
}

func ValidateApplication(app ApplicationConfig) error {
	if strings.TrimSpace(app.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(app.Repo) == "" {
		return fmt.Errorf("repo is required")
	}
	if strings.TrimSpace(app.Namespace) == "" {
		return fmt.Errorf("namespace is required")
	}
	switch app.Mode {
	case state.SyncModeAutomatic, state.SyncModeManual:
	default:
		return fmt.Errorf("unknown sync mode: %s", app.Mode)
	}
	for i, w := range app.Windows {
		if err := (scheduler.Window{Kind: w.Kind, Days: w.Days, Start: w.Start, End: w.End}).Validate(); err != nil {
			return fmt.Errorf("window[%d] invalid: %w", i, err)
		}
	}
	if app.Rollout != nil {
		if strings.TrimSpace(app.Rollout.Workload) == "" {
			return fmt.Errorf("rollout workload is required")
		}
		if _, err := parseDuration(app.Rollout.Dwell, 0); err != nil {
			return fmt.Errorf("rollout dwell invalid: %w", err)
		}
	}
	for i, m := range app.Analysis {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Expr) == "" {
			return fmt.Errorf("analysis[%d] needs name and expr", i)
		}
		if m.Min == nil && m.Max == nil && m.MaxRate == nil {
			return fmt.Errorf("analysis[%d] needs a threshold", i)
		}
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(s))
}

// Application converts one config entry into the engine's registration type.
func (app ApplicationConfig) Application() state.Application {
	return state.Application{
		Name:      app.Name,
		Namespace: app.Namespace,
		Source: state.SourceRef{
			Repo:     app.Repo,
			Path:     app.Path,
			Revision: app.Revision,
		},
		Destination: state.Destination{
			Cluster:   app.Cluster,
			Namespace: app.Namespace,
		},
		Policy: state.SyncPolicy{
			Mode:     app.Mode,
			Prune:    app.Prune,
			SelfHeal: app.SelfHeal,
		},
	}
}

// SchedulerWindows converts config windows to scheduler windows.
func (app ApplicationConfig) SchedulerWindows() scheduler.Windows {
	out := make(scheduler.Windows, 0, len(app.Windows))
	for _, w := range app.Windows {
		out = append(out, scheduler.Window{Kind: w.Kind, Days: w.Days, Start: w.Start, End: w.End})
	}
	return out
}

// RolloutSpec converts a rollout entry into controller config, applying
// defaults for unset fields.
func (rc *RolloutConfig) RolloutSpec() rollout.Config {
	out := rollout.DefaultConfig()
	if rc == nil {
		return out
	}
	if len(rc.Steps) > 0 {
		out.Steps = rc.Steps
	}
	if d, err := parseDuration(rc.Dwell, out.Dwell); err == nil {
		out.Dwell = d
	}
	if rc.FailureThreshold > 0 {
		out.FailureThreshold = rc.FailureThreshold
	}
	return out
}

// AnalysisSpec converts metric entries into an engine spec.
func (app ApplicationConfig) AnalysisSpec() analysis.Spec {
	spec := analysis.DefaultSpec()
	if app.Rollout != nil && app.Rollout.Policy != "" {
		spec.Policy = app.Rollout.Policy
	}
	for _, m := range app.Analysis {
		window, _ := parseDuration(m.Window, 5*time.Minute)
		spec.Queries = append(spec.Queries, analysis.Query{
			Name:       m.Name,
			Expr:       m.Expr,
			Window:     window,
			MinSamples: m.MinSamples,
			Reducer:    m.Reducer,
			Min:        m.Min,
			Max:        m.Max,
			MaxRate:    m.MaxRate,
		})
	}
	return spec
}
