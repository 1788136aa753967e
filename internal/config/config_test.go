package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tidectl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEngineConfigDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[[apps]]
name = "checkout"
repo = "/repos/platform"
path = "apps/checkout"
namespace = "checkout"
`)
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "tide-ctl" || cfg.Addr != ":9300" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Apps[0].Mode != state.SyncModeAutomatic {
		t.Fatalf("app mode default not applied: %q", cfg.Apps[0].Mode)
	}
}

func TestLoadEngineConfigFull(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = "tide-ctl"
addr = ":9300"
auth_token = "secret"

[provider]
kind = "prometheus"
address = "http://localhost:9090"

[[apps]]
name = "checkout"
repo = "/repos/platform"
path = "apps/checkout"
namespace = "checkout"
mode = "automatic"
prune = true
self_heal = true

[[apps.windows]]
kind = "deny"
days = ["sat"]
start = "22:00"
end = "06:00"

[apps.rollout]
workload = "checkout-api"
steps = [20, 50, 100]
dwell = "1s"
failure_threshold = 2

[[apps.analysis]]
name = "error-rate"
expr = "errors"
window = "2m"
min_samples = 3
reducer = "avg"
max = 0.05
`)
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	app := cfg.Apps[0]

	reg := app.Application()
	if err := reg.Validate(); err != nil {
		t.Fatalf("converted application invalid: %v", err)
	}
	if !reg.Policy.Prune || !reg.Policy.SelfHeal {
		t.Fatalf("policy lost in conversion: %+v", reg.Policy)
	}

	rc := app.Rollout.RolloutSpec()
	if len(rc.Steps) != 3 || rc.Steps[2] != 100 {
		t.Fatalf("rollout steps lost: %v", rc.Steps)
	}
	if rc.Dwell != time.Second || rc.FailureThreshold != 2 {
		t.Fatalf("rollout tuning lost: %+v", rc)
	}

	spec := app.AnalysisSpec()
	if len(spec.Queries) != 1 || spec.Queries[0].Window != 2*time.Minute {
		t.Fatalf("analysis queries lost: %+v", spec)
	}
	if *spec.Queries[0].Max != 0.05 {
		t.Fatalf("threshold lost: %+v", spec.Queries[0])
	}

	ws := app.SchedulerWindows()
	if len(ws) != 1 || ws[0].Kind != "deny" {
		t.Fatalf("windows lost: %+v", ws)
	}
}

func TestLoadEngineConfigRejections(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing repo": `
[[apps]]
name = "checkout"
namespace = "checkout"
`,
		"bad mode": `
[[apps]]
name = "checkout"
repo = "/repos/platform"
namespace = "checkout"
mode = "eventually"
`,
		"duplicate names": `
[[apps]]
name = "checkout"
repo = "/repos/platform"
namespace = "checkout"
[[apps]]
name = "checkout"
repo = "/repos/platform"
namespace = "other"
`,
		"bad window": `
[[apps]]
name = "checkout"
repo = "/repos/platform"
namespace = "checkout"
[[apps.windows]]
kind = "never"
start = "22:00"
end = "06:00"
`,
		"thresholdless analysis": `
[[apps]]
name = "checkout"
repo = "/repos/platform"
namespace = "checkout"
[[apps.analysis]]
name = "error-rate"
expr = "errors"
`,
		"bad provider": `
name = "tide-ctl"
[provider]
kind = "carrier-pigeon"
`,
	}
	for name, body := range cases {
		t.Run(strings.ReplaceAll(name, " ", "-"), func(t *testing.T) {
			if _, err := LoadEngineConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("config accepted: %s", name)
			}
		})
	}
}

func TestTemplatesParse(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"engine", "app"} {
		body, err := Template(kind)
		if err != nil {
			t.Fatalf("template %s: %v", kind, err)
		}
		if _, err := LoadEngineConfig(writeConfig(t, body)); err != nil {
			t.Fatalf("template %s does not load: %v", kind, err)
		}
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tidectl.toml")
	if err := WriteTemplate(path, "engine", false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, "engine", false); err == nil {
		t.Fatal("second write should refuse without overwrite")
	}
	if err := WriteTemplate(path, "engine", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}
