package bootstrap

import (
	"fmt"
	"log"
	"strings"

	"github.com/example/meshforge/internal/artifact"
	"github.com/example/meshforge/internal/config"
	"github.com/example/meshforge/internal/library"
	"github.com/example/meshforge/internal/pipeline"
	"github.com/example/meshforge/internal/render"
	"github.com/example/meshforge/internal/state"
	"github.com/example/meshforge/internal/workspace"
)

// NewPipelineFromEnv wires the render pipeline from environment
// configuration.
func NewPipelineFromEnv() (*pipeline.Pipeline, error) {
	cfg := config.FromEnv()
	return NewPipeline(cfg)
}

func NewPipeline(cfg config.Config) (*pipeline.Pipeline, error) {
	profile := render.DefaultProfile()
	if cfg.CompilerProfilesFile != "" {
		p, err := render.LoadProfile(cfg.CompilerProfilesFile, cfg.CompilerProfile)
		if err != nil {
			return nil, err
		}
		profile = p
	}
	if cfg.CompilerPath != "" {
		profile.Binary = cfg.CompilerPath
	}
	log.Printf("using geometry compiler %s (profile %s)", profile.Binary, profile.Name)

	libs, err := library.NewRegistry(cfg.LibrariesDir, profile.SourceExt)
	if err != nil {
		return nil, err
	}
	log.Printf("using libraries directory: %s", cfg.LibrariesDir)

	workspaces, err := workspace.NewManager(cfg.ModelsDir, libs, profile.SourceExt, profile.ArtifactExt)
	if err != nil {
		return nil, err
	}
	log.Printf("using models directory: %s", cfg.ModelsDir)

	var mirror artifact.Mirror
	switch strings.ToLower(strings.TrimSpace(cfg.ArtifactBackend)) {
	case "", "local":
	case "minio":
		m, err := artifact.NewMinIOMirror(artifact.MinIOConfig{
			Endpoint:    cfg.MinIOEndpoint,
			AccessKey:   cfg.MinIOAccessKey,
			SecretKey:   cfg.MinIOSecretKey,
			Bucket:      cfg.MinIOBucket,
			UseSSL:      cfg.MinIOUseSSL,
			ContentType: profile.MIMEType,
		})
		if err != nil {
			return nil, err
		}
		mirror = m
	default:
		return nil, fmt.Errorf("unsupported MESHFORGE_ARTIFACT_BACKEND value %q", cfg.ArtifactBackend)
	}

	artifacts := artifact.NewRegistry(cfg.ModelsDir, profile.ArtifactExt, artifact.Options{
		MaxEntries: cfg.ArtifactIndexMax,
		TTL:        cfg.ArtifactTTL,
		Mirror:     mirror,
	})
	executor := render.NewExecutor(profile, cfg.RenderTimeout)

	return pipeline.New(libs, workspaces, executor, artifacts, state.NewMemoryStore()), nil
}
