// Package config 负责加载 ClassifyHub 的运行配置
//
// 优先级：命令行参数 > 环境变量 (CLASSIFYHUB_*) > 配置文件 > 默认值。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"classifyhub/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CLASSIFYHUB"

// CacheConfig 缓存后端配置
type CacheConfig struct {
	// Driver 可选 sqlite / postgres / redis
	Driver              string `mapstructure:"driver" yaml:"driver"`
	DSN                 string `mapstructure:"dsn" yaml:"dsn"`
	RedisAddr           string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword       string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB             int    `mapstructure:"redis_db" yaml:"redis_db"`
	MaintenanceSchedule string `mapstructure:"maintenance_schedule" yaml:"maintenance_schedule"`
}

type FeishuConfig struct {
	Webhook string `mapstructure:"webhook" yaml:"webhook"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config 全局配置
type Config struct {
	ModelPath         string        `mapstructure:"model_path" yaml:"model_path"`
	CachePath         string        `mapstructure:"cache_path" yaml:"cache_path"`
	MaximumCacheAge   int           `mapstructure:"maximum_cache_age" yaml:"maximum_cache_age"`
	ForceCacheUpdate  bool          `mapstructure:"force_cache_update" yaml:"force_cache_update"`
	SecretFile        string        `mapstructure:"secret_file" yaml:"secret_file"`
	UserFile          string        `mapstructure:"user_file" yaml:"user_file"`
	NumberWorker      int           `mapstructure:"number_worker" yaml:"number_worker"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout" yaml:"item_timeout"`
	RateLimitMaxWait  time.Duration `mapstructure:"rate_limit_max_wait" yaml:"rate_limit_max_wait"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Input             string        `mapstructure:"input" yaml:"input"`
	Output            string        `mapstructure:"output" yaml:"output"`
	LearningInput     string        `mapstructure:"learning_input" yaml:"learning_input"`
	KFold             int           `mapstructure:"k_fold" yaml:"k_fold"`

	Cache  CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Feishu FeishuConfig  `mapstructure:"feishu" yaml:"feishu"`
	Gemini GeminiConfig  `mapstructure:"gemini" yaml:"gemini"`
	HTTP   HTTPConfig    `mapstructure:"http" yaml:"http"`
	Log    logger.Config `mapstructure:"log" yaml:"log"`
}

// SetDefaults 写入默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model_path", "./models")
	v.SetDefault("cache_path", "./cache")
	v.SetDefault("maximum_cache_age", 7)
	v.SetDefault("force_cache_update", false)
	v.SetDefault("secret_file", "./secret")
	v.SetDefault("user_file", "./user")
	v.SetDefault("number_worker", 0)
	v.SetDefault("max_retries", 3)
	v.SetDefault("item_timeout", 60*time.Second)
	v.SetDefault("rate_limit_max_wait", time.Hour)
	v.SetDefault("requests_per_second", 10.0)
	v.SetDefault("input", "./data/input.txt")
	v.SetDefault("output", "./data/output.txt")
	v.SetDefault("learning_input", "./data/learning/")
	v.SetDefault("k_fold", 10)

	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.maintenance_schedule", "0 3 * * *")

	v.SetDefault("feishu.webhook", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash-lite")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load 读取 .env、配置文件与环境变量；cfgFile 为空时在当前目录查找 config.yaml
// flags 中已修改的参数覆盖其他来源
func Load(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindFlags 把 model-path 形式的参数绑定到 model_path 配置键
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("绑定参数 %s 失败: %w", f.Name, err)
		}
	})
	return bindErr
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.MaximumCacheAge < 0 {
		return fmt.Errorf("maximum_cache_age 不能为负: %d", c.MaximumCacheAge)
	}
	if c.NumberWorker < 0 {
		return fmt.Errorf("number_worker 不能为负: %d", c.NumberWorker)
	}
	if c.KFold < 2 {
		return fmt.Errorf("k_fold 至少为 2: %d", c.KFold)
	}
	switch c.Cache.Driver {
	case "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("未知的缓存驱动: %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "postgres" && c.Cache.DSN == "" {
		return errors.New("postgres 缓存需要配置 cache.dsn")
	}
	return nil
}

// Workers 返回实际的工作协程数，0 表示 CPU 核数
func (c *Config) Workers() int {
	if c.NumberWorker <= 0 {
		return runtime.NumCPU()
	}
	return c.NumberWorker
}

// CacheMaxAge 把以天为单位的缓存期限转换为 Duration
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.MaximumCacheAge) * 24 * time.Hour
}

// SQLitePath 默认 sqlite 缓存文件位置
func (c *Config) SQLitePath() string {
	return filepath.Join(c.CachePath, "cache.db")
}

// Credentials 从 user_file 与 secret_file 读取 GitHub 凭据，两者都非空才有效
func (c *Config) Credentials() (user, token string, ok bool) {
	user = readTrimmed(c.UserFile)
	token = readTrimmed(c.SecretFile)
	if user == "" || token == "" {
		return "", "", false
	}
	return user, token, true
}

func readTrimmed(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save 以 yaml 格式写出当前配置
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("写入配置失败: %w", err)
	}
	return nil
}
