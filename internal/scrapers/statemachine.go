package scrapers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

// MachineState 状态机状态
type MachineState string

const (
	StateInit          MachineState = "INIT"
	StateScrapingStats MachineState = "SCRAPING_STATS"
	StateScrapingPRs   MachineState = "SCRAPING_PRS"
	StateEvaluating    MachineState = "EVALUATING"
	StateAccepted      MachineState = "ACCEPTED"
	StateRetrying      MachineState = "RETRYING"
	StateDropped       MachineState = "DROPPED"
)

// Outcome 仓库的终态结果
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted" // 达到阈值,记录输出
	OutcomeDropped  Outcome = "dropped"  // 未达阈值,丢弃
	OutcomeFailed   Outcome = "failed"   // 仓库级抓取失败
)

// Decision 评估阶段的转移决策
type Decision int

const (
	DecisionAccept Decision = iota // 收集量达标
	DecisionRetry                  // 未达标但还有重试余地
	DecisionDrop                   // 重试耗尽或上轮无增量
)

// Decide 评估转移决策(纯函数)
// collected>=required接受; 否则若还有重试轮次且上轮有新增则重试; 其余丢弃
func Decide(collected, required, attempts, maxAttempts, newLastAttempt int) Decision {
	if collected >= required {
		return DecisionAccept
	}
	if attempts < maxAttempts && newLastAttempt > 0 {
		return DecisionRetry
	}
	return DecisionDrop
}

// RequiredCount 计算接受阈值
func RequiredCount(target int, ratio float64) int {
	return int(math.Ceil(ratio * float64(target)))
}

// WidenedLimit 计算重试时放宽后的抓取上限
// 在已收集量上叠加两倍缺口,给解析丢失留出余量
func WidenedLimit(collected, target int) int {
	gap := target - collected
	if gap < 1 {
		gap = 1
	}
	return collected + 2*gap
}

// MachineConfig 状态机配置
type MachineConfig struct {
	PRCap         int     // 该仓库解析后的关闭PR抓取上限
	AcceptRatio   float64 // 接受阈值比例
	MaxAttempts   int     // 最大评估轮次
	MaxCommits    int     // 提交历史采样上限,0禁用
	DetailWorkers int     // 仓库内PR详情并行度
	CacheDir      string  // 检查点目录,空串禁用持久化
}

// StateMachine 单仓库抓取状态机
// 缓存与轮次计数由本实例独占,跨轮次单调累积,终态时销毁
type StateMachine struct {
	cfg     MachineConfig
	fetcher PageFetcher

	stats   *StatsScraper
	list    *PRListScraper
	detail  *PRDetailScraper
	commits *CommitScraper

	record *models.RepositoryRecord
	state  MachineState

	cache map[int]*models.PullRequest // PR编号 -> 记录
	order []int                       // 发现顺序
	crawl *models.CrawlState

	branchCommits []string
	target        int
	required      int
}

// NewStateMachine 创建状态机
func NewStateMachine(cfg MachineConfig, fetcher PageFetcher, record *models.RepositoryRecord) *StateMachine {
	if cfg.AcceptRatio <= 0 {
		cfg.AcceptRatio = 0.9
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DetailWorkers <= 0 {
		cfg.DetailWorkers = 4
	}
	return &StateMachine{
		cfg:     cfg,
		fetcher: fetcher,
		stats:   NewStatsScraper(fetcher),
		list:    NewPRListScraper(fetcher),
		detail:  NewPRDetailScraper(fetcher),
		commits: NewCommitScraper(fetcher),
		record:  record,
		state:   StateInit,
		cache:   make(map[int]*models.PullRequest),
	}
}

// State 当前状态(测试观察用)
func (m *StateMachine) State() MachineState {
	return m.state
}

// CachedCount 缓存中的PR数量
func (m *StateMachine) CachedCount() int {
	return len(m.cache)
}

// SeedCache 预置缓存条目(断点恢复与测试)
// 仅做并集合并,绝不缩小缓存
func (m *StateMachine) SeedCache(prs []*models.PullRequest) {
	for _, pr := range prs {
		if pr == nil || pr.Number == 0 {
			continue
		}
		if existing, ok := m.cache[pr.Number]; ok {
			existing.MergeFrom(pr)
			continue
		}
		m.cache[pr.Number] = pr
		m.order = append(m.order, pr.Number)
	}
}

// Run 驱动状态机直到终态
// ctx取消时完成当前抓取后退出,不写部分记录
func (m *StateMachine) Run(ctx context.Context) (Outcome, error) {
	m.loadCheckpoint()

	// 统计阶段: 主页失败视为仓库级失败
	m.state = StateScrapingStats
	stats, err := m.stats.Scrape(ctx, m.record.URL)
	if err != nil {
		m.record.CrawlSuccess = false
		m.record.ErrorMessage = err.Error()
		return OutcomeFailed, fmt.Errorf("统计抓取失败 %s: %w", m.record.URL, err)
	}
	m.record.Stats = *stats

	// 无关闭PR的仓库没有可评估的目标,直接丢弃
	if stats.ClosedPullRequests == 0 {
		utils.Infof("仓库无关闭PR,丢弃: %s", m.record.URL)
		m.finalizeDropped()
		return OutcomeDropped, nil
	}

	m.target = stats.ClosedPullRequests
	if m.cfg.PRCap > 0 && m.target > m.cfg.PRCap {
		m.target = m.cfg.PRCap
	}
	m.required = RequiredCount(m.target, m.cfg.AcceptRatio)

	// 提交历史只抓一次,供合并提交检测的分支映射策略使用
	if m.cfg.MaxCommits > 0 {
		m.branchCommits = m.commits.ScrapeCommits(ctx, m.record.URL, m.cfg.MaxCommits)
		m.record.CommitIDs = m.branchCommits
	}

	limit := m.target
	for {
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, err
		}

		m.state = StateScrapingPRs
		newCount, err := m.scrapeAttempt(ctx, limit)
		if err != nil {
			m.record.CrawlSuccess = false
			m.record.ErrorMessage = err.Error()
			return OutcomeFailed, err
		}
		m.crawl.AttemptsUsed++
		m.saveCheckpoint()

		m.state = StateEvaluating
		collected := m.collectedCount()
		utils.Debugf("评估 %s: 第%d轮 collected=%d required=%d target=%d 新增=%d",
			m.record.URL, m.crawl.AttemptsUsed, collected, m.required, m.target, newCount)

		switch Decide(collected, m.required, m.crawl.AttemptsUsed, m.cfg.MaxAttempts, newCount) {
		case DecisionAccept:
			m.state = StateAccepted
			if err := m.detailPass(ctx); err != nil {
				m.record.CrawlSuccess = false
				m.record.ErrorMessage = err.Error()
				return OutcomeFailed, err
			}
			m.finalizeAccepted()
			return OutcomeAccepted, nil

		case DecisionRetry:
			m.state = StateRetrying
			limit = WidenedLimit(collected, m.target)
			utils.Infof("仓库未达阈值,重试: %s (第%d轮, 上限放宽至%d)",
				m.record.URL, m.crawl.AttemptsUsed, limit)

		case DecisionDrop:
			utils.Infof("仓库丢弃: %s (轮次=%d, 缺口=%d/%d)",
				m.record.URL, m.crawl.AttemptsUsed, collected, m.required)
			m.finalizeDropped()
			return OutcomeDropped, nil
		}
	}
}

// scrapeAttempt 执行一轮PR发现与详情抓取
// 返回本轮新发现的PR数量,已缓存的PR不重复抓取
func (m *StateMachine) scrapeAttempt(ctx context.Context, closedLimit int) (int, error) {
	known := make(map[int]bool, len(m.cache))
	for number := range m.cache {
		known[number] = true
	}

	newRefs := make([]models.PRRef, 0)

	// 开放PR全量收集,不受关闭上限约束
	if !m.crawl.OpenPagesComplete {
		openResult, err := m.list.Discover(
			ctx, m.record.URL, models.PRStateOpen, m.crawl.LastOpenPage+1, 0, known)
		if err != nil {
			return 0, err
		}
		newRefs = append(newRefs, openResult.Refs...)
		m.crawl.LastOpenPage = openResult.LastPage
		m.crawl.OpenPagesComplete = openResult.PagesDone
	}

	// 关闭PR按当前上限增量发现
	if !m.crawl.ClosedPagesComplete {
		remaining := closedLimit - m.closedCount()
		if remaining > 0 {
			closedResult, err := m.list.Discover(
				ctx, m.record.URL, models.PRStateClosed, m.crawl.LastClosedPage+1, remaining, known)
			if err != nil {
				return 0, err
			}
			newRefs = append(newRefs, closedResult.Refs...)
			m.crawl.LastClosedPage = closedResult.LastPage
			m.crawl.ClosedPagesComplete = closedResult.PagesDone
		}
	}

	// 先按发现顺序登记占位条目,保证输出顺序与发现顺序一致
	for _, ref := range newRefs {
		m.crawl.DiscoveredPRURLs = append(m.crawl.DiscoveredPRURLs, ref.URL)
		m.mergePR(&models.PullRequest{Number: ref.Number, URL: ref.URL, State: ref.State})
	}

	// 新发现的PR立即抓取详情并入缓存
	m.scrapeDetails(ctx, newRefs)

	return len(newRefs), nil
}

// scrapeDetails 并行抓取一批PR的详情
// 单个PR失败降级为未详情化的占位条目,不中断整轮
func (m *StateMachine) scrapeDetails(ctx context.Context, refs []models.PRRef) {
	if len(refs) == 0 {
		return
	}

	type detailResult struct {
		ref models.PRRef
		pr  *models.PullRequest
	}

	jobs := make(chan models.PRRef)
	results := make(chan detailResult, len(refs))

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.DetailWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				pr, err := m.detail.Scrape(ctx, ref, m.branchCommits)
				if err != nil {
					utils.Warnf("PR详情抓取失败 %s: %v", ref.URL, err)
					results <- detailResult{ref: ref}
					continue
				}
				results <- detailResult{ref: ref, pr: pr}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, ref := range refs {
			select {
			case jobs <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.pr != nil {
			m.mergePR(res.pr)
			m.crawl.ScrapedPRNumbers = append(m.crawl.ScrapedPRNumbers, res.pr.Number)
			m.appendPRToCache(res.pr)
			continue
		}

		// 失败的PR保留占位条目计入发现量,后续详情补抓
		m.crawl.FailedPRURLs = append(m.crawl.FailedPRURLs, res.ref.URL)
	}
}

// mergePR 将PR合入缓存
// 并集合并: 新编号追加,已有编号只用更新鲜的字段覆盖
func (m *StateMachine) mergePR(pr *models.PullRequest) {
	if existing, ok := m.cache[pr.Number]; ok {
		existing.MergeFrom(pr)
		return
	}
	m.cache[pr.Number] = pr
	m.order = append(m.order, pr.Number)
}

// detailPass 接受后对缓存中尚未详情化的PR补抓详情
func (m *StateMachine) detailPass(ctx context.Context) error {
	pending := make([]models.PRRef, 0)
	for _, number := range m.order {
		pr := m.cache[number]
		if pr.Detailed || pr.URL == "" {
			continue
		}
		pending = append(pending, models.PRRef{Number: pr.Number, URL: pr.URL, State: pr.State})
	}
	if len(pending) == 0 {
		return nil
	}

	utils.Debugf("详情补抓 %s: %d个PR", m.record.URL, len(pending))
	m.scrapeDetails(ctx, pending)
	return ctx.Err()
}

// collectedCount 当前收集量: 缓存中关闭类PR数 + 全部开放PR数
func (m *StateMachine) collectedCount() int {
	count := 0
	for _, pr := range m.cache {
		if pr.State.IsClosed() || pr.State == models.PRStateOpen {
			count++
		}
	}
	return count
}

// closedCount 缓存中关闭类PR数
func (m *StateMachine) closedCount() int {
	count := 0
	for _, pr := range m.cache {
		if pr.State.IsClosed() {
			count++
		}
	}
	return count
}

// finalizeAccepted 定稿接受结果: 按发现顺序输出PR列表,清理检查点
func (m *StateMachine) finalizeAccepted() {
	m.record.PullRequests = make([]*models.PullRequest, 0, len(m.order))
	for _, number := range m.order {
		m.record.PullRequests = append(m.record.PullRequests, m.cache[number])
	}
	m.record.CrawlSuccess = true
	m.record.CrawlTimestamp = time.Now().Format(time.RFC3339)
	m.destroyState()
}

// finalizeDropped 定稿丢弃结果
func (m *StateMachine) finalizeDropped() {
	m.state = StateDropped
	m.destroyState()
}

// destroyState 销毁抓取状态,删除检查点文件
func (m *StateMachine) destroyState() {
	if m.cfg.CacheDir != "" {
		os.Remove(filepath.Join(m.cfg.CacheDir, models.CrawlStateFilename(m.record.URL)))
		os.Remove(filepath.Join(m.cfg.CacheDir, models.PRCacheFilename(m.record.URL)))
	}
	m.cache = nil
	m.order = nil
}

// loadCheckpoint 加载检查点与PR缓存,没有时新建
func (m *StateMachine) loadCheckpoint() {
	if m.cfg.CacheDir != "" {
		statePath := filepath.Join(m.cfg.CacheDir, models.CrawlStateFilename(m.record.URL))
		if state, err := models.LoadCrawlStateFromFile(statePath); err == nil && state.RepoURL == m.record.URL {
			m.crawl = state
			m.SeedCache(m.loadPRCache())
			utils.Infof("断点恢复 %s: 已缓存%d个PR, 已用%d轮",
				m.record.URL, len(m.cache), state.AttemptsUsed)
			return
		}
	}

	m.crawl = &models.CrawlState{
		TaskID:    uuid.New().String(),
		RepoURL:   m.record.URL,
		CreatedAt: time.Now(),
	}
}

// saveCheckpoint 持久化检查点
func (m *StateMachine) saveCheckpoint() {
	if m.cfg.CacheDir == "" {
		return
	}
	if err := os.MkdirAll(m.cfg.CacheDir, 0755); err != nil {
		utils.Warnf("检查点目录创建失败: %v", err)
		return
	}
	path := filepath.Join(m.cfg.CacheDir, models.CrawlStateFilename(m.record.URL))
	if err := m.crawl.SaveToFile(path); err != nil {
		utils.Warnf("检查点保存失败 %s: %v", path, err)
	}
}

// appendPRToCache 将详情化的PR追加到缓存文件(JSONL)
func (m *StateMachine) appendPRToCache(pr *models.PullRequest) {
	if m.cfg.CacheDir == "" {
		return
	}
	if err := os.MkdirAll(m.cfg.CacheDir, 0755); err != nil {
		return
	}

	path := filepath.Join(m.cfg.CacheDir, models.PRCacheFilename(m.record.URL))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		utils.Warnf("PR缓存文件打开失败 %s: %v", path, err)
		return
	}
	defer f.Close()

	data, err := json.Marshal(pr)
	if err != nil {
		return
	}
	f.Write(append(data, '\n'))
}

// loadPRCache 从缓存文件加载已详情化的PR
func (m *StateMachine) loadPRCache() []*models.PullRequest {
	path := filepath.Join(m.cfg.CacheDir, models.PRCacheFilename(m.record.URL))
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	prs := make([]*models.PullRequest, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var pr models.PullRequest
		if err := json.Unmarshal(line, &pr); err != nil {
			continue
		}
		// 缓存文件只保存详情化后的PR
		pr.Detailed = true
		prs = append(prs, &pr)
	}
	return prs
}
