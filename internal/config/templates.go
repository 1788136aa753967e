package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "engine":
		return engineTemplate, nil
	case "app":
		return appTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const engineTemplate = `name = "tide-ctl"
addr = ":9300"
auth_token = "temp-auth-key"
cors_origins = ["http://localhost:3000"]
data_dir = "./tidectl-data"

[cluster]
addr = "localhost:9400"
timeout = "10s"

[provider]
kind = "prometheus"
address = "http://localhost:9090"

[[apps]]
name = "checkout"
repo = "/var/lib/tidectl/repos/platform"
path = "apps/checkout"
namespace = "checkout"
mode = "automatic"
prune = true
self_heal = true
`

const appTemplate = `[[apps]]
name = "checkout"
repo = "/var/lib/tidectl/repos/platform"
path = "apps/checkout"
namespace = "checkout"
mode = "automatic"
prune = true
self_heal = true

[[apps.windows]]
kind = "deny"
days = ["fri", "sat"]
start = "22:00"
end = "06:00"

[apps.rollout]
workload = "checkout-api"
steps = [10, 25, 50, 100]
dwell = "30s"
failure_threshold = 1
policy = "all"

[[apps.analysis]]
name = "error-rate"
expr = "sum(rate(http_requests_total{code=~\"5..\"}[$__window])) / sum(rate(http_requests_total[$__window]))"
window = "5m"
min_samples = 3
reducer = "avg"
max = 0.05
`
