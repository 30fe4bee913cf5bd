package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/RepoCrawl/internal/config"
	"github.com/RecoveryAshes/RepoCrawl/internal/core"
	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// 抓取参数
	inputFiles    []string
	proxyURL      string
	starThreshold int
	maxClosedPRs  int
	maxWorkers    int
	outputPath    string
	resume        bool

	// HTTP头部参数
	headers []string
)

var rootCmd = &cobra.Command{
	Use:   "repocrawl",
	Short: "GitHub仓库页面抓取工具",
	Long: `RepoCrawl - GitHub仓库数据采集工具 (无API版本)

直接抓取仓库页面获取统计信息和PR详情,支持:
  • 经代理的全量页面抓取
  • 按星数阈值过滤仓库
  • PR收集量阈值评估与有界重试
  • 断点续爬与跨轮次缓存累积
  • 合并提交多策略检测
  • JSONL流式输出

使用示例:
  # 基本用法
  repocrawl -i repos_go.json -p http://127.0.0.1:7890

  # 多输入文件,覆盖抓取上限
  repocrawl -i repos_go.json -i repos_rust.json --max-closed-prs 500

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 初始化日志系统
		logConfig := utils.LogConfig{
			Level:      appConfig.Logging.Level,
			LogDir:     appConfig.Logging.LogDir,
			MaxSize:    appConfig.Logging.Rotation.MaxSize,
			MaxBackups: appConfig.Logging.Rotation.MaxBackups,
			MaxAge:     appConfig.Logging.Rotation.MaxAge,
			Compress:   appConfig.Logging.Rotation.Compress,
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 没有输入文件时显示帮助
		if len(inputFiles) == 0 {
			return cmd.Help()
		}

		// 验证参数
		if err := ValidateFlags(inputFiles, proxyURL, starThreshold, maxClosedPRs, maxWorkers); err != nil {
			return err
		}

		// 加载并合并配置
		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig.MergeCLIFlags(proxyURL, starThreshold, maxClosedPRs, maxWorkers, outputPath, resume)

		// 信号处理(Ctrl+C优雅退出): 工作协程完成当前抓取后退出
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runCrawl(ctx, appConfig)
	},
}

// runCrawl 组装各组件并执行一轮抓取
func runCrawl(ctx context.Context, appConfig *core.Config) error {
	// 请求头: 默认浏览器头 + 命令行覆盖
	headerOverrides, err := ParseHeaderFlags(headers)
	if err != nil {
		return err
	}
	headerProvider := config.NewHeaderProvider(headerOverrides)

	// 传输层
	client, err := transport.NewClient(transport.ClientConfig{
		ProxyURL:       appConfig.Transport.ProxyURL,
		Timeout:        time.Duration(appConfig.Transport.TimeoutSeconds) * time.Second,
		MaxRetries:     appConfig.Transport.MaxRetries,
		RetryBaseDelay: time.Duration(appConfig.Transport.RetryBaseDelay) * time.Second,
		RatePerSecond:  appConfig.Transport.RatePerSecond,
		MaxInFlight:    appConfig.Transport.MaxInFlight,
	}, headerProvider)
	if err != nil {
		return fmt.Errorf("创建HTTP客户端失败: %w", err)
	}

	// 输入源
	source := core.NewFileSource(inputFiles)
	repos, err := source.Load(appConfig.Crawl.StarThreshold)
	if err != nil {
		return err
	}

	// 输出槽
	sink, err := core.NewJSONLSink(appConfig.Output.Path)
	if err != nil {
		return err
	}
	defer sink.Close()

	// 资源监控
	monitor := core.NewResourceMonitor(core.ResourceMonitorConfig{
		CPULoadThreshold: 90,
		MaxWorkersLimit:  appConfig.Crawl.MaxWorkers,
	})
	monitor.StartMonitoring(5 * time.Second)
	defer monitor.StopMonitoring()

	// 上限解析: 运行时覆盖 > 按仓库配置 > 全局默认
	override := 0
	if maxClosedPRs > 0 {
		override = maxClosedPRs
	}
	resolver := core.NewCapResolver(override, appConfig.Crawl.RepoPRCaps, appConfig.Crawl.MaxClosedPRs)

	orchestrator := core.NewOrchestrator(appConfig, client, sink, resolver, monitor)
	stats, err := orchestrator.Run(ctx, repos)
	if err != nil {
		// 中断或致命错误时仍报告已完成部分的计数
		partial := orchestrator.Stats()
		utils.Warnf("抓取中断: 接受=%d 丢弃=%d 失败=%d",
			partial.Accepted, partial.Dropped, partial.Failed)
		return err
	}

	fmt.Println("\n==================================================")
	fmt.Println("📊 抓取统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 接受仓库: %d\n", stats.Accepted)
	fmt.Printf("⚠️  丢弃仓库: %d\n", stats.Dropped)
	fmt.Printf("❌ 失败仓库: %d\n", stats.Failed)
	fmt.Printf("📦 输出文件: %s\n", appConfig.Output.Path)
	fmt.Println("==================================================")

	utils.Info("✨ 抓取任务完成!")
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RepoCrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")

	// 抓取参数
	rootCmd.Flags().StringSliceVarP(&inputFiles, "input", "i", []string{}, "输入JSON文件路径,可多次指定")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "代理地址 (http://host:port)")
	rootCmd.Flags().IntVar(&starThreshold, "stars", 0, "星数过滤阈值")
	rootCmd.Flags().IntVar(&maxClosedPRs, "max-closed-prs", 0, "关闭PR抓取上限(覆盖所有仓库)")
	rootCmd.Flags().IntVar(&maxWorkers, "workers", 0, "仓库级并行度")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "JSONL输出文件路径")
	rootCmd.Flags().BoolVar(&resume, "resume", true, "启用断点续爬")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
