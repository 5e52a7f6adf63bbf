package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	ListenPort           string
	CompilerPath         string
	CompilerProfilesFile string
	CompilerProfile      string
	ModelsDir            string
	LibrariesDir         string
	RenderTimeout        time.Duration
	ArtifactIndexMax     int
	ArtifactTTL          time.Duration
	ArtifactBackend      string
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOBucket          string
	MinIOUseSSL          bool
	SubmitRatePerMin     int
}

func FromEnv() Config {
	dataRoot := getenv("MESHFORGE_DATA_ROOT", filepath.Join(os.TempDir(), "meshforge"))
	return Config{
		ListenPort:           getenv("MESHFORGE_LISTEN_PORT", "5000"),
		CompilerPath:         getenv("MESHFORGE_COMPILER_PATH", ""),
		CompilerProfilesFile: getenv("MESHFORGE_COMPILER_PROFILES_FILE", ""),
		CompilerProfile:      getenv("MESHFORGE_COMPILER_PROFILE", ""),
		ModelsDir:            getenv("MESHFORGE_MODELS_DIR", filepath.Join(dataRoot, "models")),
		LibrariesDir:         getenv("MESHFORGE_LIBRARIES_DIR", filepath.Join(dataRoot, "libraries")),
		RenderTimeout:        time.Duration(getenvInt("MESHFORGE_RENDER_TIMEOUT_SECONDS", 120)) * time.Second,
		ArtifactIndexMax:     getenvInt("MESHFORGE_ARTIFACT_INDEX_MAX", 1024),
		ArtifactTTL:          time.Duration(getenvInt("MESHFORGE_ARTIFACT_TTL_SECONDS", 0)) * time.Second,
		ArtifactBackend:      getenv("MESHFORGE_ARTIFACT_BACKEND", "local"),
		MinIOEndpoint:        getenv("MESHFORGE_MINIO_ENDPOINT", ""),
		MinIOAccessKey:       getenv("MESHFORGE_MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:       getenv("MESHFORGE_MINIO_SECRET_KEY", ""),
		MinIOBucket:          getenv("MESHFORGE_MINIO_BUCKET", "meshforge-artifacts"),
		MinIOUseSSL:          getenvBool("MESHFORGE_MINIO_USE_SSL", false),
		SubmitRatePerMin:     getenvInt("MESHFORGE_SUBMIT_RATE_LIMIT_PER_MIN", 0),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
