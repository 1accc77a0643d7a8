package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrMissingAvatarKey 表示缺少数字人厂商的 API Key，属于启动期致命错误。
var ErrMissingAvatarKey = errors.New("AVATAR_API_KEY (or HEYGEN_API_KEY) is required")

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Avatar AvatarConfig
	Chat   ChatConfig
	Speech SpeechConfig
	Audio  AudioConfig
	Viewer ViewerConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。调用方应先加载 .env 与 secrets 文件。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	avatar, err := loadAvatarConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Avatar: avatar,
		Chat:   chat,
		Speech: speech,
		Audio:  AudioConfig{FFmpegPath: getEnvOrDefault("FFMPEG_PATH", "ffmpeg")},
		Viewer: ViewerConfig{TemplatePath: strings.TrimSpace(os.Getenv("VIEWER_TEMPLATE_PATH"))},
		Log: LogConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
			File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		},
	}, nil
}

// LoadSecrets 读取 TOML 格式的密钥文件，把顶层字符串键写入尚未设置的环境变量。
// 文件不存在时静默返回。
func LoadSecrets(path string) (int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat secrets file %q: %w", path, err)
	}

	var secrets map[string]any
	if _, err := toml.DecodeFile(path, &secrets); err != nil {
		return 0, fmt.Errorf("decode secrets file %q: %w", path, err)
	}

	applied := 0
	for key, raw := range secrets {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return applied, fmt.Errorf("set %s from secrets: %w", key, err)
		}
		applied++
	}
	return applied, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AvatarConfig 描述流式数字人厂商的配置。
type AvatarConfig struct {
	APIKey         string
	BaseURL        string
	AvatarID       string
	VoiceID        string
	Timeout        time.Duration
	Warmup         time.Duration
	SupersedeDelay time.Duration
}

func loadAvatarConfig() (AvatarConfig, error) {
	apiKey := strings.TrimSpace(os.Getenv("AVATAR_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("HEYGEN_API_KEY"))
	}
	if apiKey == "" {
		return AvatarConfig{}, ErrMissingAvatarKey
	}

	timeout, err := parseDurationEnv("AVATAR_TIMEOUT", 60*time.Second)
	if err != nil {
		return AvatarConfig{}, err
	}
	warmup, err := parseDurationEnv("AVATAR_WARMUP", time.Second)
	if err != nil {
		return AvatarConfig{}, err
	}
	supersede, err := parseDurationEnv("AVATAR_SUPERSEDE_DELAY", 500*time.Millisecond)
	if err != nil {
		return AvatarConfig{}, err
	}

	return AvatarConfig{
		APIKey:         apiKey,
		BaseURL:        getEnvOrDefault("AVATAR_BASE_URL", "https://api.heygen.com"),
		AvatarID:       getEnvOrDefault("AVATAR_ID", "June_HR_public"),
		VoiceID:        strings.TrimSpace(os.Getenv("AVATAR_VOICE_ID")),
		Timeout:        timeout,
		Warmup:         warmup,
		SupersedeDelay: supersede,
	}, nil
}

// ChatConfig 描述大模型相关配置。
type ChatConfig struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

const defaultSystemPrompt = "You are a friendly assistant speaking through a video avatar. " +
	"Answer clearly and briefly, in plain sentences that sound natural when read aloud."

// Enabled 表示是否提供了所选提供方必需的密钥。
func (c ChatConfig) Enabled() bool {
	switch c.Provider {
	case "ark":
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.APIKey != "" && c.Model != ""
	}
}

func loadChatConfig() (ChatConfig, error) {
	temperature, err := parseOptionalFloatEnv("CHAT_TEMPERATURE")
	if err != nil {
		return ChatConfig{}, err
	}
	maxTokens, err := parseOptionalIntEnv("CHAT_MAX_TOKENS")
	if err != nil {
		return ChatConfig{}, err
	}
	timeout, err := parseDurationEnv("CHAT_TIMEOUT", 60*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	cfg := ChatConfig{
		Provider:     strings.ToLower(getEnvOrDefault("CHAT_PROVIDER", "openai")),
		APIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:      strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Model:        getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:  0.6,
		MaxTokens:    512,
		SystemPrompt: getEnvOrDefault("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),
		Timeout:      timeout,
		ArkAPIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	if maxTokens != nil && *maxTokens > 0 {
		cfg.MaxTokens = *maxTokens
	}

	if cfg.Provider != "openai" && cfg.Provider != "ark" {
		return ChatConfig{}, fmt.Errorf("invalid CHAT_PROVIDER value: %q", cfg.Provider)
	}
	return cfg, nil
}

// SpeechConfig 描述语音识别后端配置。
type SpeechConfig struct {
	Backends []string
	Timeout  time.Duration
	Language string

	WhisperAPIKey  string
	WhisperBaseURL string
	WhisperModel   string

	ModelPath   string
	CommandPath string

	AppID         string
	AccessToken   string
	ResourceID    string
	VolcengineURL string

	CartesiaAPIKey string
	CartesiaModel  string
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("STT_TIMEOUT", 120*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	whisperKey := strings.TrimSpace(os.Getenv("STT_WHISPER_API_KEY"))
	if whisperKey == "" {
		whisperKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return SpeechConfig{
		Backends:       splitList(getEnvOrDefault("STT_BACKENDS", "whisper,command,volcengine,cartesia")),
		Timeout:        timeout,
		Language:       getEnvOrDefault("STT_LANGUAGE", "en"),
		WhisperAPIKey:  whisperKey,
		WhisperBaseURL: strings.TrimSpace(os.Getenv("STT_WHISPER_BASE_URL")),
		WhisperModel:   getEnvOrDefault("STT_WHISPER_MODEL", "whisper-1"),
		ModelPath:      strings.TrimSpace(os.Getenv("STT_MODEL_PATH")),
		CommandPath:    getEnvOrDefault("STT_COMMAND", "whisper-cli"),
		AppID:          strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken:    accessToken,
		ResourceID:     getEnvOrDefault("SPEECH_RESOURCE_ID", "volc.bigasr.sauc.duration"),
		VolcengineURL:  getEnvOrDefault("SPEECH_ASR_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"),
		CartesiaAPIKey: strings.TrimSpace(os.Getenv("CARTESIA_API_KEY")),
		CartesiaModel:  getEnvOrDefault("CARTESIA_STT_MODEL", "ink-whisper"),
	}, nil
}

// AudioConfig 描述外部音频转换工具。
type AudioConfig struct {
	FFmpegPath string
}

// ViewerConfig 描述嵌入式播放器模板。
type ViewerConfig struct {
	TemplatePath string
}

// LogConfig 描述结构化日志输出。
type LogConfig struct {
	Level string
	File  string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDurationEnv 接受 Go duration（"1.5s"）或整数秒。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
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
