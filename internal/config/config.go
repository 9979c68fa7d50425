package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 是 lrcplay 的顶层配置结构。
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Audio    AudioConfig    `yaml:"audio"`
	Search   SearchConfig   `yaml:"search"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Lyrics   LyricsConfig   `yaml:"lyrics"`
	Playback PlaybackConfig `yaml:"playback"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Announce AnnounceConfig `yaml:"announce"`
	Log      LogConfig      `yaml:"log"`
}

// AudioConfig 音频播放配置。
type AudioConfig struct {
	Channels int `yaml:"channels"`
}

// SearchConfig 歌曲搜索配置。
type SearchConfig struct {
	// Suffix 追加到搜索关键词之后，例如 "audio" 可以减少 MV 结果。
	Suffix string `yaml:"suffix"`
}

// FetchConfig 音频下载配置。
type FetchConfig struct {
	// Backend 下载后端: youtube（内置客户端 + ffmpeg）或 ytdlp。
	Backend    string `yaml:"backend"`
	OutputDir  string `yaml:"output_dir"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	YtdlpPath  string `yaml:"ytdlp_path"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// LyricsConfig 歌词服务配置。
type LyricsConfig struct {
	APIURL         string `yaml:"api_url"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	SearchFallback bool   `yaml:"search_fallback"`
	// SendDuration 是否把时长作为 duration 参数发送（LRCLIB 会按 ±2 秒匹配）。
	SendDuration bool `yaml:"send_duration"`
	UserAgent    string `yaml:"user_agent"`
}

// PlaybackConfig 同步播放配置。
type PlaybackConfig struct {
	// Sink 歌词输出方式: line（逐行打印）或 label（单行刷新）。
	Sink string `yaml:"sink"`
	// OffsetMs 歌词整体偏移（毫秒），正数表示歌词延后显示。
	OffsetMs int `yaml:"offset_ms"`
	// AudioGraceSec 在音频时长之外额外等待的秒数，超过后强制结束播放。
	AudioGraceSec int `yaml:"audio_grace_sec"`
	// MaxAudioSec 无法得知音频时长时的最长播放秒数。
	MaxAudioSec int    `yaml:"max_audio_sec"`
	NoteGlyph   string `yaml:"note_glyph"`
	Color       bool   `yaml:"color"`
}

// CacheConfig 已下载音频的缓存配置。
type CacheConfig struct {
	// MaxSizeMB 缓存上限，未设置时为 1024，负数表示不缓存（每次都重新下载）。
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AnnounceConfig 播放前语音播报配置。
type AnnounceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Voice   string `yaml:"voice"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	Quiet bool   `yaml:"quiet"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{
		Lyrics: LyricsConfig{SearchFallback: true, SendDuration: true},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault 与 Load 相同，但配置文件不存在时返回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{
		Lyrics: LyricsConfig{SearchFallback: true, SendDuration: true},
	}
	setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.DataDir = filepath.Join(home, ".lrcplay")
		} else {
			cfg.DataDir = "./.lrcplay-data"
		}
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}

	if cfg.Fetch.Backend == "" {
		cfg.Fetch.Backend = "youtube"
	}
	if cfg.Fetch.OutputDir == "" {
		cfg.Fetch.OutputDir = "./MP3"
	}
	cfg.Fetch.OutputDir = expandHome(cfg.Fetch.OutputDir)
	if cfg.Fetch.FFmpegPath == "" {
		cfg.Fetch.FFmpegPath = "ffmpeg"
	}
	if cfg.Fetch.YtdlpPath == "" {
		cfg.Fetch.YtdlpPath = "yt-dlp"
	}
	if cfg.Fetch.TimeoutSec == 0 {
		cfg.Fetch.TimeoutSec = 600
	}

	if cfg.Lyrics.APIURL == "" {
		cfg.Lyrics.APIURL = "https://lrclib.net"
	}
	cfg.Lyrics.APIURL = strings.TrimRight(strings.TrimSpace(cfg.Lyrics.APIURL), "/")
	if cfg.Lyrics.TimeoutSec == 0 {
		cfg.Lyrics.TimeoutSec = 10
	}
	if cfg.Lyrics.UserAgent == "" {
		cfg.Lyrics.UserAgent = "lrcplay/1.0 (https://github.com/iabetor/lrcplay)"
	}

	if cfg.Playback.Sink == "" {
		cfg.Playback.Sink = "line"
	}
	if cfg.Playback.AudioGraceSec == 0 {
		cfg.Playback.AudioGraceSec = 30
	}
	if cfg.Playback.MaxAudioSec == 0 {
		cfg.Playback.MaxAudioSec = 1800
	}
	if cfg.Playback.NoteGlyph == "" {
		cfg.Playback.NoteGlyph = "♪"
	}

	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = 1024
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "lrcplay.db")
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)

	if cfg.Announce.Voice == "" {
		cfg.Announce.Voice = "zh-CN-XiaoxiaoNeural"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.File = expandHome(cfg.Log.File)
}

// Validate 检查配置中的枚举值是否合法。
func (c *Config) Validate() error {
	switch c.Fetch.Backend {
	case "youtube", "ytdlp":
	default:
		return fmt.Errorf("不支持的下载后端: %s", c.Fetch.Backend)
	}
	switch c.Playback.Sink {
	case "line", "label":
	default:
		return fmt.Errorf("不支持的歌词输出方式: %s", c.Playback.Sink)
	}
	if c.Playback.AudioGraceSec < 0 {
		return fmt.Errorf("playback.audio_grace_sec 不能为负数: %d", c.Playback.AudioGraceSec)
	}
	if c.Playback.MaxAudioSec <= 0 {
		return fmt.Errorf("playback.max_audio_sec 必须大于 0: %d", c.Playback.MaxAudioSec)
	}
	return nil
}

// expandHome 将 ~/ 开头的路径替换为用户主目录，Go 不会自动展开。
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}
