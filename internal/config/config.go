// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"docqa-go/internal/apperr"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	AI            AIConfig            `mapstructure:"ai"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Tika          TikaConfig          `mapstructure:"tika"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
// Addresses 与 CloudID 二选一；APIKey 优先于 Username/Password。
type ElasticsearchConfig struct {
	Addresses     string `mapstructure:"addresses"`
	CloudID       string `mapstructure:"cloud_id"`
	APIKey        string `mapstructure:"api_key"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	IndexName     string `mapstructure:"index_name"`
	VectorField   string `mapstructure:"vector_field"`
	TextField     string `mapstructure:"text_field"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
	ListPageSize  int    `mapstructure:"list_page_size"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey        string              `mapstructure:"api_key"`
	BaseURL       string              `mapstructure:"base_url"`
	Model         string              `mapstructure:"model"`
	UtilityModel  string              `mapstructure:"utility_model"`
	AllowedModels []string            `mapstructure:"allowed_models"`
	Generation    LLMGenerationConfig `mapstructure:"generation"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// BreakerConfig 配置非流式 LLM 调用的熔断器。
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// AIConfig 存储检索问答流程本身的参数。
type AIConfig struct {
	Intent IntentConfig `mapstructure:"intent"`
	Search SearchConfig `mapstructure:"search"`
	Prompt PromptConfig `mapstructure:"prompt"`
}

// IntentConfig 配置意图分类。Mode 为 two_way 或 three_way。
type IntentConfig struct {
	Mode    string        `mapstructure:"mode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SearchConfig 配置向量检索。
type SearchConfig struct {
	TopK          int `mapstructure:"top_k"`
	MaxTopK       int `mapstructure:"max_top_k"`
	NumCandidates int `mapstructure:"num_candidates"`
	SnippetChars  int `mapstructure:"snippet_chars"`
}

// PromptConfig 配置提示词的可选部分；约束模型只依据上下文作答的规则始终生效。
type PromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储外部文档源（MinIO 对象存储）的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// JWTConfig 存储 API 令牌相关的配置。Secret 为空时不启用鉴权。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// MetricsConfig 存储 Prometheus 指标相关的配置。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Init 从指定路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load 读取配置文件并叠加 DOCQA_ 前缀的环境变量，返回校验前的配置。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.LLM.UtilityModel == "" {
		cfg.LLM.UtilityModel = cfg.LLM.Model
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("elasticsearch.vector_field", "chunk_vector")
	v.SetDefault("elasticsearch.text_field", "chunk_text")
	v.SetDefault("elasticsearch.list_page_size", 500)
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)
	v.SetDefault("llm.breaker.max_failures", 5)
	v.SetDefault("llm.breaker.open_timeout", 30*time.Second)
	v.SetDefault("ai.intent.mode", "two_way")
	v.SetDefault("ai.intent.timeout", 5*time.Second)
	v.SetDefault("ai.search.top_k", 10)
	v.SetDefault("ai.search.max_top_k", 50)
	v.SetDefault("ai.search.num_candidates", 100)
	v.SetDefault("ai.search.snippet_chars", 150)
	v.SetDefault("kafka.topic", "docqa-query-audit")
	v.SetDefault("kafka.group_id", "docqa-audit-consumer")
	v.SetDefault("jwt.token_expire_hours", 24*30)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate 检查启动所必需的配置项，缺失时返回 config_error。
func (c *Config) Validate() error {
	var missing []string
	if c.Elasticsearch.Addresses == "" && c.Elasticsearch.CloudID == "" {
		missing = append(missing, "elasticsearch.addresses|elasticsearch.cloud_id")
	}
	if c.Elasticsearch.IndexName == "" {
		missing = append(missing, "elasticsearch.index_name")
	}
	if c.Embedding.BaseURL == "" {
		missing = append(missing, "embedding.base_url")
	}
	if c.Embedding.Model == "" {
		missing = append(missing, "embedding.model")
	}
	if c.Embedding.Dimensions <= 0 {
		missing = append(missing, "embedding.dimensions")
	}
	if c.LLM.BaseURL == "" {
		missing = append(missing, "llm.base_url")
	}
	if c.LLM.Model == "" {
		missing = append(missing, "llm.model")
	}
	if c.Kafka.Enabled && c.Kafka.Brokers == "" {
		missing = append(missing, "kafka.brokers")
	}
	if c.MySQL.Enabled && c.MySQL.DSN == "" {
		missing = append(missing, "mysql.dsn")
	}
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.BucketName == "") {
		missing = append(missing, "minio.endpoint|minio.bucket_name")
	}
	if len(missing) > 0 {
		return apperr.Config("缺少必需的配置项: %s", strings.Join(missing, ", "))
	}
	switch c.AI.Intent.Mode {
	case "two_way", "three_way":
	default:
		return apperr.Config("ai.intent.mode 只能是 two_way 或 three_way, 当前为 %q", c.AI.Intent.Mode)
	}
	return nil
}
