package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Judge  JudgeConfig
	AI     AIConfig
	OpenAI OpenAIConfig
	Music  MusicConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	judge, err := loadJudgeConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	music, err := loadMusicConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Judge:  judge,
		AI:     ai,
		OpenAI: loadOpenAIConfig(),
		Music:  music,
		Log:    loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// 判断后端的可选值。
const (
	BackendAuto      = "auto"
	BackendArk       = "ark"
	BackendOpenAI    = "openai"
	BackendHeuristic = "heuristic"
)

// JudgeConfig 描述路由/情绪判断后端的选择与调用限制。
type JudgeConfig struct {
	Backend      string
	Timeout      time.Duration
	HistoryLimit int
}

func loadJudgeConfig() (JudgeConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("JUDGE_BACKEND", BackendAuto))
	switch backend {
	case BackendAuto, BackendArk, BackendOpenAI, BackendHeuristic:
	default:
		return JudgeConfig{}, fmt.Errorf("invalid JUDGE_BACKEND value %q", backend)
	}

	timeout, err := parseDurationEnv("JUDGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return JudgeConfig{}, err
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("JUDGE_HISTORY_LIMIT"); err != nil {
		return JudgeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			historyLimit = 1
		} else {
			historyLimit = *override
		}
	}

	return JudgeConfig{Backend: backend, Timeout: timeout, HistoryLimit: historyLimit}, nil
}

// AIConfig 描述方舟大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// OpenAIConfig 描述 OpenAI 兼容后端。
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Enabled 表示是否提供了 API Key。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

func loadOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
	}
}

// MusicConfig 描述外部音乐渲染服务以及后台任务的节奏。
type MusicConfig struct {
	APIKey         string
	BaseURL        string
	UserID         string
	RequestTimeout time.Duration
	SubmitAttempts int
	SubmitBackoff  time.Duration
	PollInterval   time.Duration
	// PollTimeout 为 0 表示轮询没有总时限。
	PollTimeout time.Duration
}

func loadMusicConfig() (MusicConfig, error) {
	attempts := 3
	if override, err := parseOptionalIntEnv("MUSIC_SUBMIT_ATTEMPTS"); err != nil {
		return MusicConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return MusicConfig{}, fmt.Errorf("invalid MUSIC_SUBMIT_ATTEMPTS value %d: must be >= 1", *override)
		}
		attempts = *override
	}

	backoff, err := parseDurationEnv("MUSIC_SUBMIT_BACKOFF", 2*time.Second)
	if err != nil {
		return MusicConfig{}, err
	}

	interval, err := parseDurationEnv("MUSIC_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return MusicConfig{}, err
	}
	if interval <= 0 {
		return MusicConfig{}, fmt.Errorf("invalid MUSIC_POLL_INTERVAL value %s: must be positive", interval)
	}

	pollTimeout, err := parseDurationEnv("MUSIC_POLL_TIMEOUT", 0)
	if err != nil {
		return MusicConfig{}, err
	}

	requestTimeout, err := parseDurationEnv("MUSIC_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return MusicConfig{}, err
	}

	return MusicConfig{
		APIKey:         strings.TrimSpace(os.Getenv("SUNO_API")),
		BaseURL:        strings.TrimRight(getEnvOrDefault("MUSIC_BASE_URL", "https://dzwlai.com/apiuser/_open"), "/"),
		UserID:         getEnvOrDefault("MUSIC_USER_ID", "1000"),
		RequestTimeout: requestTimeout,
		SubmitAttempts: attempts,
		SubmitBackoff:  backoff,
		PollInterval:   interval,
		PollTimeout:    pollTimeout,
	}, nil
}

// LogConfig 描述日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
