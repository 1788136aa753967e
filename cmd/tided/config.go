package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/tidectl/internal/reconcile"
)

// tuning carries runtime knobs that have sensible defaults and rarely move.
// They live in an optional [tuning] table of the engine config.
type tuning struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type fileTuning struct {
	Tuning struct {
		MaxAttempts    int    `toml:"max_attempts"`
		InitialBackoff string `toml:"initial_backoff"`
		MaxBackoff     string `toml:"max_backoff"`
	} `toml:"tuning"`
}

func loadTuning(path string) (tuning, error) {
	def := reconcile.DefaultConfig()
	cfg := tuning{
		maxAttempts:    def.MaxAttempts,
		initialBackoff: def.InitialBackoff,
		maxBackoff:     def.MaxBackoff,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tuning{}, fmt.Errorf("load tuning: %w", err)
	}
	var raw fileTuning
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return tuning{}, fmt.Errorf("parse tuning: %w", err)
	}

	if meta.IsDefined("tuning", "max_attempts") {
		cfg.maxAttempts = raw.Tuning.MaxAttempts
	}
	if meta.IsDefined("tuning", "initial_backoff") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Tuning.InitialBackoff))
		if err != nil {
			return tuning{}, fmt.Errorf("parse initial_backoff: %w", err)
		}
		cfg.initialBackoff = d
	}
	if meta.IsDefined("tuning", "max_backoff") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Tuning.MaxBackoff))
		if err != nil {
			return tuning{}, fmt.Errorf("parse max_backoff: %w", err)
		}
		cfg.maxBackoff = d
	}
	return cfg, nil
}

func (t tuning) reconcile() reconcile.Config {
	return reconcile.Config{
		MaxAttempts:    t.maxAttempts,
		InitialBackoff: t.initialBackoff,
		MaxBackoff:     t.maxBackoff,
	}
}
