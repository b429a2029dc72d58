package config

import "time"

// RunnerConfig holds runtime configuration for the pipeline runner.
type RunnerConfig struct {
	Environment   string
	Addr          string
	DockerHost    string
	Workdir       string
	HistoryPath   string
	GitTimeout    time.Duration
	RunTimeout    time.Duration
	ArtifactStore ArtifactStoreConfig
}

// ArtifactStoreConfig selects and configures the artifact backend.
type ArtifactStoreConfig struct {
	Backend   string // "fs" or "s3"
	Dir       string // fs backend root
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// LoadRunnerConfig constructs a RunnerConfig from environment variables.
func LoadRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("DOCKHAND_ADDR", ":5100"),
		DockerHost:  GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Workdir:     GetString("DOCKHAND_WORKDIR", "/tmp/dockhand"),
		HistoryPath: GetString("DOCKHAND_HISTORY_PATH", "dockhand-history.db"),
		GitTimeout:  time.Duration(GetInt("DOCKHAND_GIT_TIMEOUT_SECONDS", 120)) * time.Second,
		RunTimeout:  time.Duration(GetInt("DOCKHAND_RUN_TIMEOUT_SECONDS", 3600)) * time.Second,
		ArtifactStore: ArtifactStoreConfig{
			Backend:   GetString("DOCKHAND_ARTIFACT_BACKEND", "fs"),
			Dir:       GetString("DOCKHAND_ARTIFACT_DIR", "dockhand-artifacts"),
			Endpoint:  GetString("DOCKHAND_S3_ENDPOINT", "localhost:9000"),
			AccessKey: GetString("DOCKHAND_S3_ACCESS_KEY", ""),
			SecretKey: GetString("DOCKHAND_S3_SECRET_KEY", ""),
			Region:    GetString("DOCKHAND_S3_REGION", "us-east-1"),
			Bucket:    GetString("DOCKHAND_S3_BUCKET", "artifacts"),
			UseSSL:    GetBool("DOCKHAND_S3_USE_SSL", false),
		},
	}
}
