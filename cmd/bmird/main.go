package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/busmirror/internal/config"
	"github.com/danmuck/busmirror/internal/daemon"
	"github.com/danmuck/busmirror/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to bmird config.toml (defaults when empty)")
	replay := flag.String("replay", "", "pcap or pcapng file to replay through the pipeline")
	flag.Parse()

	logger := observability.InitLogger("bmird")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bmird: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := daemon.NewService(cfg, *replay, logger)
	if err := svc.Run(); err != nil {
		logger.Error().Err(err).Msg("bmird exited")
		os.Exit(1)
	}
}
