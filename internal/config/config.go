// Package config loads the render service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the render service.
type Config struct {
	Server   ServerConfig
	Render   RenderConfig
	Renderer RendererConfig
	Mirror   MirrorConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Sentry   SentryConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// PublicBaseURL prefixes artifact URLs handed to clients. No trailing slash.
	PublicBaseURL      string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

type RenderConfig struct {
	RendersDir       string
	ScratchDir       string
	Concurrency      int
	Timeout          time.Duration
	CancelPoll       time.Duration
	Compositions     []string
	NotifyTimeout    time.Duration
	SubmitRatePerSec float64
	SubmitBurst      int
}

type RendererConfig struct {
	// Kind is "http" or "cli".
	Kind     string
	BaseURL  string
	CLI      string
	ServeURL string
}

type MirrorConfig struct {
	// Kind is "none", "gdrive" or "s3".
	Kind   string
	GDrive GDriveConfig
	S3     S3Config
}

type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

type RedisConfig struct {
	// Addr is optional; event fan-out is disabled when empty.
	Addr      string
	EventsTTL time.Duration
}

type DatabaseConfig struct {
	// URL is optional; the history archive is disabled when empty.
	URL string
}

type SentryConfig struct {
	DSN         string
	Environment string
}

type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

var (
	validRenderers = map[string]bool{"http": true, "cli": true}
	validMirrors   = map[string]bool{"none": true, "gdrive": true, "s3": true}
)

// Load reads the environment and returns a validated Config.
func Load() (*Config, error) {
	port := envInt("HTTP_PORT", 5000)

	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			PublicBaseURL:      strings.TrimRight(envString("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
			CORSAllowedOrigins: envCSV("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
			ShutdownTimeout:    envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Render: RenderConfig{
			RendersDir:       envString("RENDERS_DIR", "./renders"),
			ScratchDir:       envString("SCRATCH_DIR", filepath.Join(os.TempDir(), "pitchreel")),
			Concurrency:      envInt("RENDER_CONCURRENCY", 2),
			Timeout:          envDuration("RENDER_TIMEOUT", 10*time.Minute),
			CancelPoll:       envDuration("RENDER_CANCEL_POLL", 500*time.Millisecond),
			Compositions:     envCSV("RENDER_COMPOSITIONS", []string{"TextClip"}),
			NotifyTimeout:    envDuration("NOTIFY_TIMEOUT", 2*time.Second),
			SubmitRatePerSec: envFloat("SUBMIT_RATE_PER_SEC", 5),
			SubmitBurst:      envInt("SUBMIT_BURST", 10),
		},
		Renderer: RendererConfig{
			Kind:     envString("RENDERER_KIND", "http"),
			BaseURL:  strings.TrimRight(envString("RENDERER_BASE_URL", "http://localhost:3001"), "/"),
			CLI:      envString("RENDERER_CLI", "npx remotion"),
			ServeURL: os.Getenv("RENDERER_SERVE_URL"),
		},
		Mirror: MirrorConfig{
			Kind: envString("ARTIFACT_MIRROR", "none"),
			GDrive: GDriveConfig{
				ClientID:     os.Getenv("GDRIVE_CLIENT_ID"),
				ClientSecret: os.Getenv("GDRIVE_CLIENT_SECRET"),
				RefreshToken: os.Getenv("GDRIVE_REFRESH_TOKEN"),
				FolderID:     os.Getenv("GDRIVE_FOLDER_ID"),
			},
			S3: S3Config{
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				Region:          envString("S3_REGION", "auto"),
				Bucket:          os.Getenv("S3_BUCKET"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
				Prefix:          envString("S3_PREFIX", "renders/"),
				UsePathStyle:    envBool("S3_USE_PATH_STYLE", true),
			},
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			EventsTTL: envDuration("EVENTS_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Sentry: SentryConfig{
			DSN:         os.Getenv("SENTRY_DSN"),
			Environment: envString("SENTRY_ENV", "development"),
		},
		Log: LogConfig{
			Level:     envString("LOG_LEVEL", "info"),
			Format:    envString("LOG_FORMAT", "json"),
			AddSource: envBool("LOG_SOURCE", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !isHTTPURL(c.Server.PublicBaseURL) {
		return fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Server.PublicBaseURL)
	}

	if c.Render.Concurrency < 1 {
		return fmt.Errorf("RENDER_CONCURRENCY must be at least 1, got %d", c.Render.Concurrency)
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be positive")
	}
	if c.Render.CancelPoll <= 0 {
		return fmt.Errorf("RENDER_CANCEL_POLL must be positive")
	}
	if len(c.Render.Compositions) == 0 {
		return fmt.Errorf("RENDER_COMPOSITIONS must name at least one composition")
	}
	if c.Render.SubmitRatePerSec <= 0 || c.Render.SubmitBurst < 1 {
		return fmt.Errorf("SUBMIT_RATE_PER_SEC must be positive and SUBMIT_BURST at least 1")
	}

	if !validRenderers[c.Renderer.Kind] {
		return fmt.Errorf("RENDERER_KIND must be one of http, cli; got %q", c.Renderer.Kind)
	}
	if c.Renderer.Kind == "http" && !isHTTPURL(c.Renderer.BaseURL) {
		return fmt.Errorf("RENDERER_BASE_URL must start with http:// or https://, got %q", c.Renderer.BaseURL)
	}
	if c.Renderer.Kind == "cli" {
		if c.Renderer.ServeURL == "" {
			return fmt.Errorf("RENDERER_SERVE_URL is required when RENDERER_KIND is cli")
		}
		if len(strings.Fields(c.Renderer.CLI)) == 0 {
			return fmt.Errorf("RENDERER_CLI must not be blank")
		}
	}

	if !validMirrors[c.Mirror.Kind] {
		return fmt.Errorf("ARTIFACT_MIRROR must be one of none, gdrive, s3; got %q", c.Mirror.Kind)
	}
	switch c.Mirror.Kind {
	case "gdrive":
		g := c.Mirror.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return fmt.Errorf("GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required when ARTIFACT_MIRROR is gdrive")
		}
	case "s3":
		s := c.Mirror.S3
		if s.Bucket == "" || s.AccessKeyID == "" || s.SecretAccessKey == "" {
			return fmt.Errorf("S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when ARTIFACT_MIRROR is s3")
		}
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	i, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return d
}

func envCSV(key string, defaultVal []string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
