package main

import (
	"context"
	"log"

	"tenk/internal/config"
	"tenk/internal/daemonrun"
)

var version = "dev"

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Version: version}); err != nil {
		log.Fatalf("tenkd: %v", err)
	}
}
