package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

// Duration 支持 "15m" / "2s" 形式的 yaml 配置
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	// 纯数字按秒处理
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"` // mysql | postgres | memory
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	LLM struct {
		APIKey          string  `yaml:"api_key"`
		BaseURL         string  `yaml:"base_url"`
		Model           string  `yaml:"model"`
		LayoutRetries   *int    `yaml:"layout_retries"`
		Temperature     float64 `yaml:"temperature"`
		NarrationAssist bool    `yaml:"narration_assist"`
	} `yaml:"llm"`
	TTS struct {
		APIURL     string   `yaml:"api_url"`
		APIKey     string   `yaml:"api_key"`
		Model      string   `yaml:"model"`
		Attempts   int      `yaml:"attempts"`
		RetryDelay Duration `yaml:"retry_delay"`
		SceneDelay Duration `yaml:"scene_delay"`
	} `yaml:"tts"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Worker struct {
		Mode        string `yaml:"mode"` // queue | inline
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"worker"`
	Registry struct {
		Backend string   `yaml:"backend"` // memory | redis
		TTL     Duration `yaml:"ttl"`
	} `yaml:"registry"`
	Storage struct {
		Provider string `yaml:"provider"` // minio | supabase | none
	} `yaml:"storage"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	Supabase struct {
		URL        string `yaml:"url"`
		ServiceKey string `yaml:"service_key"`
		Bucket     string `yaml:"bucket"`
	} `yaml:"supabase"`
	Workspace struct {
		Root     string `yaml:"root"`
		MediaDir string `yaml:"media_dir"`
	} `yaml:"workspace"`
	Render struct {
		Command     string   `yaml:"command"`
		Args        []string `yaml:"args"`
		OutputName  string   `yaml:"output_name"`
		GracePeriod Duration `yaml:"grace_period"`
	} `yaml:"render"`
	Pipeline struct {
		StaleAfter Duration `yaml:"stale_after"`
	} `yaml:"pipeline"`
	Retention struct {
		Schedule     string `yaml:"schedule"`
		FreeTierDays int    `yaml:"free_tier_days"`
	} `yaml:"retention"`
}

var AppConfig *Config

// Load reads the yaml file (missing file means defaults), applies .env and
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("配置文件解析失败: %w", err)
		}
	case os.IsNotExist(err):
		log.Printf("[Config] %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("配置文件读取失败: %w", err)
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func InitConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	AppConfig = cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.Model, "OPENAI_MODEL")
	setString(&cfg.TTS.APIKey, "TTS_API_KEY")
	setString(&cfg.TTS.APIURL, "TTS_API_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinIO.Bucket, "MINIO_BUCKET")
	setString(&cfg.Supabase.URL, "SUPABASE_URL")
	setString(&cfg.Supabase.ServiceKey, "SUPABASE_SERVICE_KEY")
	setString(&cfg.Supabase.Bucket, "SUPABASE_BUCKET")
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	// 0 关闭重试，仅在未配置时使用默认值
	if cfg.LLM.LayoutRetries == nil {
		retries := 2
		cfg.LLM.LayoutRetries = &retries
	}
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.TTS.Attempts <= 0 {
		cfg.TTS.Attempts = 3
	}
	if cfg.TTS.RetryDelay <= 0 {
		cfg.TTS.RetryDelay = Duration(2 * time.Second)
	}
	if cfg.TTS.SceneDelay < 0 {
		cfg.TTS.SceneDelay = 0
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Worker.Mode == "" {
		cfg.Worker.Mode = "inline"
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = "memory"
	}
	if cfg.Registry.TTL <= 0 {
		cfg.Registry.TTL = Duration(24 * time.Hour)
	}
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "none"
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "data/workspaces"
	}
	if cfg.Workspace.MediaDir == "" {
		cfg.Workspace.MediaDir = "data/media"
	}
	if cfg.Render.Command == "" {
		cfg.Render.Command = "npx"
		cfg.Render.Args = []string{"remotion", "render", "{workspace}/index.ts", "Explainer", "{output}", "--props={workspace}/data.json"}
	}
	if cfg.Render.OutputName == "" {
		cfg.Render.OutputName = "out.mp4"
	}
	if cfg.Render.GracePeriod <= 0 {
		cfg.Render.GracePeriod = Duration(5 * time.Second)
	}
	if cfg.Pipeline.StaleAfter <= 0 {
		cfg.Pipeline.StaleAfter = Duration(15 * time.Minute)
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@every 1h"
	}
	if cfg.Retention.FreeTierDays <= 0 {
		cfg.Retention.FreeTierDays = 7
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Storage.Provider {
	case "minio", "supabase", "none":
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	switch c.Worker.Mode {
	case "queue", "inline":
	default:
		return fmt.Errorf("unknown worker mode %q", c.Worker.Mode)
	}
	switch c.Registry.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	return nil
}
