package main

import (
	"context"
	"log"
	"net/http"

	"github.com/example/meshforge/internal/api"
	"github.com/example/meshforge/internal/bootstrap"
	"github.com/example/meshforge/internal/config"
	"github.com/example/meshforge/internal/observability"
)

func main() {
	cfg := config.FromEnv()

	shutdownTrace, err := observability.InitTracingFromEnv("meshforge-server")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	pipe, err := bootstrap.NewPipeline(cfg)
	if err != nil {
		log.Fatalf("bootstrap pipeline: %v", err)
	}
	server := api.NewServer(pipe, cfg.SubmitRatePerMin)

	log.Printf("meshforge api listening on :%s", cfg.ListenPort)
	if err := http.ListenAndServe(":"+cfg.ListenPort, server.Handler()); err != nil {
		log.Fatalf("meshforge server failed: %v", err)
	}
}
