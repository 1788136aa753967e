package main

import (
	"flag"
	"log"

	"github.com/danmuck/tidectl/internal/config"
)

func main() {
	kind := flag.String("kind", "engine", "config kind: engine|app")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = "tidectl.toml"
		}
		if _, err := config.LoadEngineConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated engine config at %s", path)
		return
	}

	target := *output
	if target == "" {
		target = "tidectl.toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
