package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smart-protocol/smart/config"
	"github.com/smart-protocol/smart/internal/node"
)

func main() {
	configPath := flag.String("config", "config/config.json", "Config file (JSON or YAML)")
	port := flag.Int("port", 0, "HTTP port, overrides the config file")
	genesisPath := flag.String("genesis", "", "Genesis file, overrides the config file")
	flag.Parse()

	// Allow environment variable override
	if envConfig := os.Getenv("SMART_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[Node] No config file at %s, using defaults", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatal(err)
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			cfg.Port = p
		}
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if envDir := os.Getenv("STORAGE_DIR"); envDir != "" {
		cfg.StorageDir = envDir
	}
	if *genesisPath != "" {
		cfg.GenesisPath = *genesisPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	var opts node.Options
	if cfg.GenesisPath != "" {
		if opts.Genesis, err = node.LoadGenesis(cfg.GenesisPath); err != nil {
			log.Fatal(err)
		}
	}

	n, err := node.New(cfg, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Serve(ctx, fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		return n.WatchPeriods(ctx, time.Second)
	})
	if err := g.Wait(); err != nil {
		log.Printf("[Node] Stopped with error: %v", err)
	}
	log.Printf("[Node] Shut down")
}
