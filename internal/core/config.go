package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Output    OutputConfig    `mapstructure:"output"`
}

// CrawlConfig 抓取配置
type CrawlConfig struct {
	StarThreshold   int            `mapstructure:"star_threshold"`    // 星数过滤阈值
	MaxClosedPRs    int            `mapstructure:"max_closed_prs"`    // 关闭PR抓取上限(全局默认)
	RepoPRCaps      map[string]int `mapstructure:"repo_pr_caps"`      // 按仓库URL覆盖的上限
	AcceptRatio     float64        `mapstructure:"accept_ratio"`      // 接受阈值比例
	MaxAttempts     int            `mapstructure:"max_attempts"`      // 单仓库最大评估轮次
	MaxWorkers      int            `mapstructure:"max_workers"`       // 仓库级并行度
	DetailWorkers   int            `mapstructure:"detail_workers"`    // 仓库内PR详情并行度
	MaxCommits      int            `mapstructure:"max_commits"`       // 提交历史采样上限
	CacheDir        string         `mapstructure:"cache_dir"`         // 检查点目录
	Resume          bool           `mapstructure:"resume"`            // 是否启用断点续爬
	EmitFailedRepos bool           `mapstructure:"emit_failed_repos"` // 失败仓库是否输出部分记录
	FailureAbort    int            `mapstructure:"failure_abort"`     // 连续传输耗尽多少次后终止整轮
}

// TransportConfig 传输层配置
type TransportConfig struct {
	ProxyURL       string  `mapstructure:"proxy_url"`        // 代理地址
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`  // 单次请求超时(秒)
	MaxRetries     int     `mapstructure:"max_retries"`      // 瞬时故障重试次数
	RetryBaseDelay int     `mapstructure:"retry_base_delay"` // 重试基础延迟(秒)
	RatePerSecond  float64 `mapstructure:"rate_per_second"`  // 全局速率限制
	MaxInFlight    int     `mapstructure:"max_in_flight"`    // 全局并发请求上限
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Path string `mapstructure:"path"` // JSONL输出文件路径
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".repocrawl"))
		}
	}

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在,使用默认值
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 抓取配置默认值
	v.SetDefault("crawl.star_threshold", 500)
	v.SetDefault("crawl.max_closed_prs", 1000)
	v.SetDefault("crawl.accept_ratio", 0.9)
	v.SetDefault("crawl.max_attempts", 5)
	v.SetDefault("crawl.max_workers", 4)
	v.SetDefault("crawl.detail_workers", 4)
	v.SetDefault("crawl.max_commits", 1000)
	v.SetDefault("crawl.cache_dir", "cache")
	v.SetDefault("crawl.resume", true)
	v.SetDefault("crawl.emit_failed_repos", false)
	v.SetDefault("crawl.failure_abort", 10)

	// 传输配置默认值
	v.SetDefault("transport.timeout_seconds", 30)
	v.SetDefault("transport.max_retries", 3)
	v.SetDefault("transport.retry_base_delay", 2)
	v.SetDefault("transport.rate_per_second", 5)
	v.SetDefault("transport.max_in_flight", 10)

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.path", "output/repositories.jsonl")
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(
	proxyURL string,
	starThreshold int,
	maxClosedPRs int,
	maxWorkers int,
	outputPath string,
	resume bool,
) {
	if proxyURL != "" {
		c.Transport.ProxyURL = proxyURL
	}
	if starThreshold > 0 {
		c.Crawl.StarThreshold = starThreshold
	}
	if maxClosedPRs > 0 {
		c.Crawl.MaxClosedPRs = maxClosedPRs
	}
	if maxWorkers > 0 {
		c.Crawl.MaxWorkers = maxWorkers
	}
	if outputPath != "" {
		c.Output.Path = outputPath
	}
	c.Crawl.Resume = resume
}

// CapResolver 仓库PR上限解析器
// 优先级: 运行时覆盖 > 按仓库配置 > 全局默认,配置加载后不可变
type CapResolver struct {
	override   int            // 运行时覆盖,0表示未设置
	repoCaps   map[string]int // 按仓库URL的上限表
	defaultCap int
}

// NewCapResolver 创建上限解析器
func NewCapResolver(override int, repoCaps map[string]int, defaultCap int) *CapResolver {
	normalized := make(map[string]int, len(repoCaps))
	for repoURL, limit := range repoCaps {
		normalized[normalizeRepoKey(repoURL)] = limit
	}
	return &CapResolver{
		override:   override,
		repoCaps:   normalized,
		defaultCap: defaultCap,
	}
}

// Resolve 解析指定仓库的关闭PR抓取上限
func (r *CapResolver) Resolve(repoURL string) int {
	if r.override > 0 {
		return r.override
	}
	if limit, ok := r.repoCaps[normalizeRepoKey(repoURL)]; ok && limit > 0 {
		return limit
	}
	return r.defaultCap
}

// normalizeRepoKey 归一化仓库URL作为查找键
func normalizeRepoKey(repoURL string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(repoURL), "/"))
}
