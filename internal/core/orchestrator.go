package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
	"github.com/RecoveryAshes/RepoCrawl/internal/scrapers"
	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

// RunStats 运行级计数
type RunStats struct {
	Accepted int64 // 达标输出的仓库数
	Dropped  int64 // 未达标丢弃的仓库数
	Failed   int64 // 仓库级抓取失败数
}

// Orchestrator 抓取编排器
// 在有界工作池上并发运行各仓库状态机,定稿记录立即写出
type Orchestrator struct {
	config   *Config
	fetcher  scrapers.PageFetcher
	sink     RecordSink
	resolver *CapResolver
	monitor  *ResourceMonitor

	runID string

	accepted atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64

	// 连续传输耗尽失败计数,达到上限时终止整轮
	consecutiveExhausted atomic.Int64
	abortOnce            sync.Once
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	config *Config,
	fetcher scrapers.PageFetcher,
	sink RecordSink,
	resolver *CapResolver,
	monitor *ResourceMonitor,
) *Orchestrator {
	return &Orchestrator{
		config:   config,
		fetcher:  fetcher,
		sink:     sink,
		resolver: resolver,
		monitor:  monitor,
		runID:    uuid.New().String(),
	}
}

// Run 执行一轮完整抓取
// repos已按星数过滤去重; ctx取消时各工作协程完成当前抓取后退出
func (o *Orchestrator) Run(ctx context.Context, repos []models.InputRepository) (*RunStats, error) {
	if len(repos) == 0 {
		utils.Warn("没有达到阈值的仓库,本轮结束")
		return &RunStats{}, nil
	}

	workers := o.workerCount()
	utils.Infof("抓取开始: run=%s 仓库=%d 工作协程=%d", o.runID, len(repos), workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bar := progressbar.NewOptions(len(repos),
		progressbar.OptionSetDescription("抓取仓库"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
	)

	jobs := make(chan models.InputRepository)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for repo := range jobs {
				o.runOne(runCtx, repo, cancel)
				bar.Add(1)
			}
		}()
	}

	start := time.Now()
feed:
	for _, repo := range repos {
		// 内存或CPU紧张时暂缓派发,已在跑的仓库不受影响
		o.waitForResources(runCtx)
		select {
		case jobs <- repo:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	fmt.Println()

	stats := &RunStats{
		Accepted: o.accepted.Load(),
		Dropped:  o.dropped.Load(),
		Failed:   o.failed.Load(),
	}
	utils.Infof("抓取结束: run=%s 耗时=%v 接受=%d 丢弃=%d 失败=%d",
		o.runID, time.Since(start).Round(time.Second), stats.Accepted, stats.Dropped, stats.Failed)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if o.consecutiveExhausted.Load() >= int64(o.config.Crawl.FailureAbort) {
		return stats, fmt.Errorf("连续%d个仓库因传输耗尽失败,判定代理不可用", o.config.Crawl.FailureAbort)
	}
	return stats, nil
}

// runOne 运行单个仓库的状态机并处理终态
func (o *Orchestrator) runOne(ctx context.Context, repo models.InputRepository, abort context.CancelFunc) {
	if err := ctx.Err(); err != nil {
		return
	}

	record := models.NewRepositoryRecord(repo)
	cacheDir := ""
	if o.config.Crawl.Resume {
		cacheDir = o.config.Crawl.CacheDir
	}

	machine := scrapers.NewStateMachine(scrapers.MachineConfig{
		PRCap:         o.resolver.Resolve(repo.URL),
		AcceptRatio:   o.config.Crawl.AcceptRatio,
		MaxAttempts:   o.config.Crawl.MaxAttempts,
		MaxCommits:    o.config.Crawl.MaxCommits,
		DetailWorkers: o.config.Crawl.DetailWorkers,
		CacheDir:      cacheDir,
	}, o.fetcher, record)

	outcome, err := machine.Run(ctx)
	switch outcome {
	case scrapers.OutcomeAccepted:
		o.consecutiveExhausted.Store(0)
		o.accepted.Add(1)
		if err := o.sink.Emit(record); err != nil {
			utils.Errorf("记录写出失败 %s: %v", repo.URL, err)
		}

	case scrapers.OutcomeDropped:
		o.consecutiveExhausted.Store(0)
		o.dropped.Add(1)

	case scrapers.OutcomeFailed:
		o.failed.Add(1)
		if ctx.Err() != nil {
			return
		}
		utils.Errorf("仓库抓取失败 %s: %v", repo.URL, err)

		// 失败仓库按配置输出部分记录或跳过
		if o.config.Crawl.EmitFailedRepos {
			if emitErr := o.sink.Emit(record); emitErr != nil {
				utils.Errorf("失败记录写出失败 %s: %v", repo.URL, emitErr)
			}
		}

		// 全部重试均耗尽的传输故障连续出现,说明代理彻底不可用
		if transport.IsTransient(err) {
			if n := o.consecutiveExhausted.Add(1); n >= int64(o.config.Crawl.FailureAbort) {
				o.abortOnce.Do(func() {
					utils.Errorf("连续%d个仓库因传输耗尽失败,终止本轮", n)
					abort()
				})
			}
		} else {
			o.consecutiveExhausted.Store(0)
		}
	}
}

// waitForResources 阻塞到资源允许调度新仓库
// 每次派发前检查,不可用时周期性复查直到恢复或ctx取消
func (o *Orchestrator) waitForResources(ctx context.Context) {
	if o.monitor == nil {
		return
	}
	for {
		ok, reason := o.monitor.CheckResourceAvailability()
		if ok {
			return
		}
		utils.Warnf("资源紧张,暂缓派发新仓库: %s", reason)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// workerCount 计算实际工作协程数
// 取配置值与资源监控建议值的较小者
func (o *Orchestrator) workerCount() int {
	workers := o.config.Crawl.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	if o.monitor != nil {
		if recommended := o.monitor.RecommendWorkers(); recommended < workers {
			utils.Infof("资源监控建议并行度%d,低于配置值%d,采用建议值", recommended, workers)
			workers = recommended
		}
	}
	return workers
}

// Stats 当前计数快照
func (o *Orchestrator) Stats() *RunStats {
	return &RunStats{
		Accepted: o.accepted.Load(),
		Dropped:  o.dropped.Load(),
		Failed:   o.failed.Load(),
	}
}
