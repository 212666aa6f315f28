package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"strandpipe/internal/buffer"
	"strandpipe/internal/codec"
	"strandpipe/internal/config"
	"strandpipe/internal/pipeline"
	"strandpipe/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "strandpipe.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	st, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	cdc, err := codec.New(cfg.Codec.DigestLength, cfg.Codec.ChecksumWidth)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	policy, err := buffer.ParsePolicy(cfg.Pipeline.Policy)
	if err != nil {
		log.Fatalf("buffer policy: %v", err)
	}
	shutdownMode, err := pipeline.ParseShutdownMode(cfg.Pipeline.Shutdown)
	if err != nil {
		log.Fatalf("shutdown mode: %v", err)
	}

	coord, err := pipeline.New(
		pipeline.Config{
			Workers:       cfg.Pipeline.Workers,
			CommitRetries: cfg.Pipeline.CommitRetries,
			RetryBackoff:  time.Duration(cfg.Pipeline.RetryBackoffMs) * time.Millisecond,
			AwaitTimeout:  time.Duration(cfg.Pipeline.AwaitTimeoutMs) * time.Millisecond,
			Shutdown:      shutdownMode,
		},
		cdc,
		buffer.Config{
			Capacity:    cfg.Pipeline.Capacity,
			Policy:      policy,
			PushTimeout: time.Duration(cfg.Pipeline.PushTimeoutMs) * time.Millisecond,
		},
		st,
	)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord.Start(ctx)
	log.WithFields(log.Fields{
		"capacity": cfg.Pipeline.Capacity,
		"workers":  cfg.Pipeline.Workers,
		"policy":   cfg.Pipeline.Policy,
		"shutdown": cfg.Pipeline.Shutdown,
		"store":    cfg.Store.Path,
	}).Info("strandpiped started")

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
	}
}
