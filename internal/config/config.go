// Package config 负责加载、校验 prepdocs 的配置。
//
// 配置来源优先级（从高到低）：命令行参数 > 环境变量（含 .env）> YAML 配置文件 > 默认值。
// 环境变量沿用原有部署使用的变量名（AZURE_STORAGE_ACCOUNT、USE_ACLS 等）。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"prepdocs-go/internal/model"
)

// ErrInvalidConfig 表示配置不完整或互相矛盾，属于致命错误。
var ErrInvalidConfig = errors.New("invalid configuration")

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server               ServerConfig               `mapstructure:"server"`
	Log                  LogConfig                  `mapstructure:"log"`
	Storage              StorageConfig              `mapstructure:"storage"`
	DataLake             DataLakeConfig             `mapstructure:"datalake"`
	Search               SearchConfig               `mapstructure:"search"`
	OpenAI               OpenAIConfig               `mapstructure:"openai"`
	Vision               VisionConfig               `mapstructure:"vision"`
	DocumentIntelligence DocumentIntelligenceConfig `mapstructure:"documentintelligence"`
	Ingest               IngestConfig               `mapstructure:"ingest"`
	Auth                 AuthConfig                 `mapstructure:"auth"`
	Kafka                KafkaConfig                `mapstructure:"kafka"`
	Database             DatabaseConfig             `mapstructure:"database"`
}

// ServerConfig 存储 HTTP skill 服务相关的配置。
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

// StorageConfig 存储对象存储（MinIO / S3 兼容）的配置。
// Account 与 Container 同时用于校验 skill 请求中的 blob_url。
type StorageConfig struct {
	Account         string `mapstructure:"account"`
	Container       string `mapstructure:"container"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// DataLakeConfig 存储分层存储列举（hierarchical listing）的配置。
// StorageAccount 非空时，批处理从存储中列举文件，而不是本地 glob。
type DataLakeConfig struct {
	StorageAccount string `mapstructure:"storage_account"`
	Filesystem     string `mapstructure:"filesystem"`
	Path           string `mapstructure:"path"`
	Key            string `mapstructure:"key"`
}

// SearchConfig 存储 Elasticsearch 相关的配置。
type SearchConfig struct {
	Addresses    string `mapstructure:"addresses"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Index        string `mapstructure:"index"`
	AnalyzerName string `mapstructure:"analyzer_name"`
}

// OpenAIConfig 存储文本 Embedding 服务的配置。
// Host 为 "openai" 时使用 OpenAI 官方接口，否则使用 Azure OpenAI 部署。
type OpenAIConfig struct {
	Host         string `mapstructure:"host"`
	Service      string `mapstructure:"service"`
	Deployment   string `mapstructure:"deployment"`
	ModelName    string `mapstructure:"model_name"`
	Key          string `mapstructure:"key"`
	Organization string `mapstructure:"organization"`
	BaseURL      string `mapstructure:"base_url"`
	APIVersion   string `mapstructure:"api_version"`
	Dimensions   int    `mapstructure:"dimensions"`
}

// VisionConfig 存储图像 Embedding 服务的配置。
type VisionConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Key        string `mapstructure:"key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// DocumentIntelligenceConfig 存储云端文档解析服务（Apache Tika）的配置。
type DocumentIntelligenceConfig struct {
	Service string `mapstructure:"service"`
}

// IngestConfig 存储一次运行的行为开关。
type IngestConfig struct {
	Files               []string `mapstructure:"files"`
	Category            string `mapstructure:"category"`
	UseACLs             bool   `mapstructure:"use_acls"`
	SkipBlobs           bool   `mapstructure:"skip_blobs"`
	NoVectors           bool   `mapstructure:"no_vectors"`
	DisableBatchVectors bool   `mapstructure:"disable_batch_vectors"`
	Remove              bool   `mapstructure:"remove"`
	RemoveAll           bool   `mapstructure:"remove_all"`
	LocalPDFParser      bool   `mapstructure:"local_pdf_parser"`
	SearchImages        bool   `mapstructure:"search_images"`
	Verbose             bool   `mapstructure:"verbose"`
	MaxSectionLength    int    `mapstructure:"max_section_length"`
	SectionOverlap      int    `mapstructure:"section_overlap"`
	SentenceSearchLimit int    `mapstructure:"sentence_search_limit"`
	TempDir             string `mapstructure:"temp_dir"`
	SkipUnchanged       bool   `mapstructure:"skip_unchanged"`
}

// AuthConfig 存储 skill 接口 JWT 鉴权的配置，Secret 为空时不启用鉴权。
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// KafkaConfig 存储 Kafka 相关的配置，Brokers 为空时不启动消费者。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置，DSN 为空时不记录入库台账。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// envBindings 将配置键映射到原有部署使用的环境变量名。
var envBindings = map[string]string{
	"ingest.files":                 "FILES",
	"datalake.storage_account":     "DATALAKE_STORAGE_ACCOUNT",
	"datalake.filesystem":          "DATALAKE_FILESYSTEM",
	"datalake.path":                "DATALAKE_PATH",
	"datalake.key":                 "DATALAKE_KEY",
	"ingest.use_acls":              "USE_ACLS",
	"ingest.category":              "CATEGORY",
	"ingest.skip_blobs":            "SKIP_BLOBS",
	"storage.account":              "AZURE_STORAGE_ACCOUNT",
	"storage.container":            "AZURE_STORAGE_CONTAINER",
	"storage.endpoint":             "STORAGE_ENDPOINT",
	"storage.access_key_id":        "STORAGE_ACCESS_KEY_ID",
	"storage.secret_access_key":    "STORAGE_SECRET_ACCESS_KEY",
	"search.addresses":             "AZURE_SEARCH_SERVICE",
	"search.index":                 "AZURE_SEARCH_INDEX",
	"search.username":              "SEARCH_USERNAME",
	"search.password":              "SEARCH_PASSWORD",
	"search.analyzer_name":         "SEARCH_ANALYZER_NAME",
	"openai.host":                  "OPENAI_HOST",
	"openai.service":               "AZURE_OPENAI_SERVICE",
	"openai.deployment":            "AZURE_OPENAI_EMB_DEPLOYMENT",
	"openai.model_name":            "AZURE_OPENAI_EMB_MODEL_NAME",
	"openai.key":                   "OPENAI_API_KEY",
	"openai.organization":          "OPENAI_ORG",
	"ingest.no_vectors":            "NO_VECTORS",
	"ingest.disable_batch_vectors": "DISABLE_BATCH_VECTORS",
	"ingest.remove":                "REMOVE",
	"ingest.remove_all":            "REMOVE_ALL",
	"ingest.local_pdf_parser":      "LOCAL_PDF_PARSER",
	"documentintelligence.service": "AZURE_FORMRECOGNIZER_SERVICE",
	"ingest.search_images":         "SEARCH_IMAGES",
	"vision.endpoint":              "AZURE_VISION_ENDPOINT",
	"vision.key":                   "AZURE_VISION_KEY",
	"ingest.verbose":               "VERBOSE",
	"ingest.skip_unchanged":        "SKIP_UNCHANGED",
	"auth.jwt_secret":              "SKILL_JWT_SECRET",
	"kafka.brokers":                "KAFKA_BROKERS",
	"database.mysql.dsn":           "MYSQL_DSN",
	"database.redis.addr":          "REDIS_ADDR",
}

// SetDefaults 写入所有配置项的默认值。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "7071")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("datalake.filesystem", "gptkbcontainer")
	v.SetDefault("search.addresses", "http://localhost:9200")
	v.SetDefault("search.analyzer_name", "standard")
	v.SetDefault("openai.model_name", "text-embedding-ada-002")
	v.SetDefault("openai.api_version", "2023-05-15")
	v.SetDefault("openai.dimensions", 1536)
	v.SetDefault("vision.dimensions", 1024)
	v.SetDefault("ingest.max_section_length", 1000)
	v.SetDefault("ingest.section_overlap", 100)
	v.SetDefault("ingest.sentence_search_limit", 100)
	v.SetDefault("auth.token_expire_hours", 24)
	v.SetDefault("kafka.topic", "prepdocs-ingest")
	v.SetDefault("kafka.group_id", "prepdocs-consumer")
}

// Load 按优先级合并各个来源并解析到 Config 中。
// configPath 为空时只使用环境变量和默认值；调用方可以事先把命令行参数绑定到 v 上。
func Load(v *viper.Viper, configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	SetDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Action 根据 remove / removeall 开关推导本次运行的文档动作，removeall 优先。
func (c *Config) Action() model.DocumentAction {
	switch {
	case c.Ingest.RemoveAll:
		return model.RemoveAll
	case c.Ingest.Remove:
		return model.Remove
	default:
		return model.Add
	}
}

// UseVectors 表示是否计算文本向量。
func (c *Config) UseVectors() bool {
	return !c.Ingest.NoVectors
}

// LogLevel 返回生效的日志级别，verbose 模式强制为 debug。
func (c *Config) LogLevel() string {
	if c.Ingest.Verbose {
		return "debug"
	}
	return c.Log.Level
}

// DocumentAnalysisURL 返回 Tika 服务的地址；只给出服务名时按默认端口拼接。
func (c *Config) DocumentAnalysisURL() string {
	svc := strings.TrimSpace(c.DocumentIntelligence.Service)
	if svc == "" || strings.Contains(svc, "://") {
		return strings.TrimSuffix(svc, "/")
	}
	return fmt.Sprintf("http://%s:9998", svc)
}

// Validate 校验配置的完整性，返回的错误都包装了 ErrInvalidConfig。
func (c *Config) Validate() error {
	if !c.Ingest.LocalPDFParser && strings.TrimSpace(c.DocumentIntelligence.Service) == "" {
		return fmt.Errorf("%w: document analysis service is not provided, set --formrecognizerservice or use --localpdfparser", ErrInvalidConfig)
	}
	if c.Storage.Container == "" {
		return fmt.Errorf("%w: storage container is required", ErrInvalidConfig)
	}
	if c.Search.Index == "" {
		return fmt.Errorf("%w: search index is required", ErrInvalidConfig)
	}
	if c.UseVectors() && c.Action() == model.Add {
		if c.OpenAI.Host == "openai" {
			if c.OpenAI.Key == "" {
				return fmt.Errorf("%w: openai key is required when openaihost=openai", ErrInvalidConfig)
			}
		} else if c.OpenAI.Service == "" && c.OpenAI.BaseURL == "" {
			return fmt.Errorf("%w: azure openai service is required unless --novectors is set", ErrInvalidConfig)
		} else if c.OpenAI.Deployment == "" {
			return fmt.Errorf("%w: azure openai deployment is required", ErrInvalidConfig)
		}
	}
	if c.Ingest.MaxSectionLength <= 0 {
		return fmt.Errorf("%w: max section length must be positive", ErrInvalidConfig)
	}
	if c.Ingest.SectionOverlap < 0 || c.Ingest.SectionOverlap >= c.Ingest.MaxSectionLength {
		return fmt.Errorf("%w: section overlap must be in [0, max section length)", ErrInvalidConfig)
	}
	return nil
}
