package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kestrelsync/docsync/internal/config"
	"github.com/kestrelsync/docsync/internal/server"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "configs/docsync.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("docsync %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	if err := srv.Run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
