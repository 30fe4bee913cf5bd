package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
)

// TestDecide 测试评估阶段的转移决策
func TestDecide(t *testing.T) {
	tests := []struct {
		name           string
		collected      int
		required       int
		attempts       int
		maxAttempts    int
		newLastAttempt int
		expected       Decision
		reason         string
	}{
		{
			name:      "首轮未达标有增量则重试",
			collected: 60, required: 90, attempts: 1, maxAttempts: 5, newLastAttempt: 60,
			expected: DecisionRetry,
			reason:   "100个关闭PR目标,首轮60个,应放宽上限重试",
		},
		{
			name:      "重试后达标则接受",
			collected: 95, required: 90, attempts: 2, maxAttempts: 5, newLastAttempt: 35,
			expected: DecisionAccept,
			reason:   "第二轮补足35个后95>=90",
		},
		{
			name:      "上轮零增量则丢弃",
			collected: 40, required: 90, attempts: 2, maxAttempts: 5, newLastAttempt: 0,
			expected: DecisionDrop,
			reason:   "重复抓取不再有新PR,继续重试无意义",
		},
		{
			name:      "轮次耗尽则丢弃",
			collected: 80, required: 90, attempts: 5, maxAttempts: 5, newLastAttempt: 10,
			expected: DecisionDrop,
			reason:   "已达最大评估轮次",
		},
		{
			name:      "恰好达到阈值则接受",
			collected: 90, required: 90, attempts: 1, maxAttempts: 5, newLastAttempt: 90,
			expected: DecisionAccept,
			reason:   "阈值为闭区间下界",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.collected, tt.required, tt.attempts, tt.maxAttempts, tt.newLastAttempt)
			if got != tt.expected {
				t.Errorf("Decide() = %v, 期望 %v (%s)", got, tt.expected, tt.reason)
			}
		})
	}
}

// TestRequiredCount 测试接受阈值计算
func TestRequiredCount(t *testing.T) {
	if got := RequiredCount(100, 0.9); got != 90 {
		t.Errorf("RequiredCount(100, 0.9) = %d, 期望 90", got)
	}
	// 向上取整: 0.9*4=3.6 -> 4
	if got := RequiredCount(4, 0.9); got != 4 {
		t.Errorf("RequiredCount(4, 0.9) = %d, 期望 4", got)
	}
	if got := RequiredCount(1, 0.9); got != 1 {
		t.Errorf("RequiredCount(1, 0.9) = %d, 期望 1", got)
	}
}

// TestWidenedLimit 测试重试上限放宽
func TestWidenedLimit(t *testing.T) {
	// 缺口40,放宽后 60+2*40=140
	if got := WidenedLimit(60, 100); got != 140 {
		t.Errorf("WidenedLimit(60, 100) = %d, 期望 140", got)
	}
	// 缺口为0时至少放宽1
	if got := WidenedLimit(100, 100); got != 102 {
		t.Errorf("WidenedLimit(100, 100) = %d, 期望 102", got)
	}
}

// detailPage 构造PR详情页HTML
func detailPage(title, state, extra string) string {
	return fmt.Sprintf(
		`<html><body><h1 class="gh-header-title">%s</h1><span class="State State--%s">%s</span>%s</body></html>`,
		title, state, state, extra)
}

// statsPages 构造统计抓取所需的最小页面集
func statsPages(openPRs, closedPRs int) map[string]string {
	return map[string]string{
		testRepoURL: `<a href="/acme/demo/forks">10</a>`,
		testRepoURL + "/pulls": fmt.Sprintf(
			`<a href="/acme/demo/pulls?q=is%%3Aopen+is%%3Apr">%d Open</a>`+
				`<a href="/acme/demo/pulls?q=is%%3Aclosed+is%%3Apr">%d Closed</a>`,
			openPRs, closedPRs),
	}
}

// TestStateMachineAcceptsWhenThresholdMet 测试达标仓库的完整接受流程
func TestStateMachineAcceptsWhenThresholdMet(t *testing.T) {
	pages := statsPages(1, 4)

	// 开放PR列表: #10
	pages[ListPageURL(testRepoURL, models.PRStateOpen, 1)] = prLink(10)
	// 关闭PR列表: #2-#5
	pages[ListPageURL(testRepoURL, models.PRStateClosed, 1)] =
		prLink(2) + prLink(3) + prLink(4) + prLink(5)

	mergedSHA := "def4560000000000000000000000000000000000"
	pages[testRepoURL+"/pull/10"] = detailPage("新功能", "open", "")
	pages[testRepoURL+"/pull/2"] = detailPage("修复崩溃", "merged",
		`<div>xyz merged commit `+mergedSHA+` into main</div>`)
	pages[testRepoURL+"/pull/3"] = detailPage("文档更新", "closed", "")
	pages[testRepoURL+"/pull/4"] = detailPage("重构", "closed", "")
	pages[testRepoURL+"/pull/5"] = detailPage("升级依赖", "closed", "")

	fetcher := newStubFetcher(pages)
	record := models.NewRepositoryRecord(models.InputRepository{URL: testRepoURL, Stars: 1000})
	machine := NewStateMachine(MachineConfig{
		PRCap:       1000,
		AcceptRatio: 0.9,
		MaxAttempts: 5,
	}, fetcher, record)

	outcome, err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("outcome = %v, 期望 accepted (collected=5 >= required=4)", outcome)
	}
	if machine.State() != StateAccepted {
		t.Errorf("State() = %v, 期望 ACCEPTED", machine.State())
	}

	if len(record.PullRequests) != 5 {
		t.Fatalf("PR数 = %d, 期望 5", len(record.PullRequests))
	}

	// PR编号在仓库内唯一
	seen := make(map[int]bool)
	for _, pr := range record.PullRequests {
		if seen[pr.Number] {
			t.Errorf("PR编号重复: %d", pr.Number)
		}
		seen[pr.Number] = true
	}

	// 发现顺序: 开放#10先发现,随后关闭#2-#5
	if record.PullRequests[0].Number != 10 {
		t.Errorf("首个PR = %d, 期望 10 (发现顺序输出)", record.PullRequests[0].Number)
	}

	// 合并提交不变量: 仅merged状态且检测成功的PR有commit_id
	for _, pr := range record.PullRequests {
		switch pr.Number {
		case 2:
			if pr.State != models.PRStateMerged || pr.CommitID != mergedSHA {
				t.Errorf("PR#2 state=%s commit=%q, 期望 merged/%s", pr.State, pr.CommitID, mergedSHA)
			}
		default:
			if pr.CommitID != "" {
				t.Errorf("PR#%d commit=%q, 期望为空 (未合并PR不应有commit_id)", pr.Number, pr.CommitID)
			}
		}
	}

	if !record.CrawlSuccess {
		t.Error("CrawlSuccess = false, 期望 true")
	}
}

// TestStateMachineDropsOnNoProgress 测试零增量轮次后的丢弃
func TestStateMachineDropsOnNoProgress(t *testing.T) {
	pages := statsPages(0, 10)

	// 只有4个关闭PR可发现,target=10 required=9永远达不到
	pages[ListPageURL(testRepoURL, models.PRStateClosed, 1)] =
		prLink(1) + prLink(2) + prLink(3) + prLink(4)
	for i := 1; i <= 4; i++ {
		pages[fmt.Sprintf("%s/pull/%d", testRepoURL, i)] = detailPage("t", "closed", "")
	}

	fetcher := newStubFetcher(pages)
	record := models.NewRepositoryRecord(models.InputRepository{URL: testRepoURL, Stars: 1000})
	machine := NewStateMachine(MachineConfig{
		PRCap:       1000,
		AcceptRatio: 0.9,
		MaxAttempts: 5,
	}, fetcher, record)

	outcome, err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if outcome != OutcomeDropped {
		t.Fatalf("outcome = %v, 期望 dropped (第二轮零增量)", outcome)
	}
	if machine.State() != StateDropped {
		t.Errorf("State() = %v, 期望 DROPPED", machine.State())
	}
}

// TestStateMachineDropsZeroClosedPRs 测试无关闭PR的仓库直接丢弃
func TestStateMachineDropsZeroClosedPRs(t *testing.T) {
	fetcher := newStubFetcher(statsPages(2, 0))
	record := models.NewRepositoryRecord(models.InputRepository{URL: testRepoURL, Stars: 1000})
	machine := NewStateMachine(MachineConfig{PRCap: 1000}, fetcher, record)

	outcome, err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if outcome != OutcomeDropped {
		t.Errorf("outcome = %v, 期望 dropped (无可评估目标)", outcome)
	}
}

// TestStateMachineFailsOnStatsError 测试主页失败的仓库级失败
func TestStateMachineFailsOnStatsError(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{})
	record := models.NewRepositoryRecord(models.InputRepository{URL: testRepoURL, Stars: 1000})
	machine := NewStateMachine(MachineConfig{PRCap: 1000}, fetcher, record)

	outcome, err := machine.Run(context.Background())
	if outcome != OutcomeFailed || err == nil {
		t.Errorf("outcome = %v err = %v, 期望 failed与非nil错误", outcome, err)
	}
	if record.CrawlSuccess {
		t.Error("CrawlSuccess = true, 期望 false")
	}
}

// TestStateMachineResumesFromCache 测试断点恢复: 充足的缓存无需任何列表或详情抓取
func TestStateMachineResumesFromCache(t *testing.T) {
	cacheDir := t.TempDir()

	// 预置检查点: 分页已完成,4个PR已详情化
	state := &models.CrawlState{
		TaskID:              "prev-run",
		RepoURL:             testRepoURL,
		OpenPagesComplete:   true,
		ClosedPagesComplete: true,
		AttemptsUsed:        1,
	}
	statePath := filepath.Join(cacheDir, models.CrawlStateFilename(testRepoURL))
	if err := state.SaveToFile(statePath); err != nil {
		t.Fatalf("预置检查点失败: %v", err)
	}

	cachePath := filepath.Join(cacheDir, models.PRCacheFilename(testRepoURL))
	f, err := os.Create(cachePath)
	if err != nil {
		t.Fatalf("预置PR缓存失败: %v", err)
	}
	for i := 1; i <= 4; i++ {
		pr := models.PullRequest{
			Number: i,
			Title:  fmt.Sprintf("缓存PR %d", i),
			State:  models.PRStateClosed,
			URL:    fmt.Sprintf("%s/pull/%d", testRepoURL, i),
		}
		line, _ := json.Marshal(&pr)
		f.Write(append(line, '\n'))
	}
	f.Close()

	// 仅提供统计页面,列表页和详情页一律404
	fetcher := newStubFetcher(statsPages(0, 4))
	record := models.NewRepositoryRecord(models.InputRepository{URL: testRepoURL, Stars: 1000})
	machine := NewStateMachine(MachineConfig{
		PRCap:       1000,
		AcceptRatio: 0.9,
		MaxAttempts: 5,
		CacheDir:    cacheDir,
	}, fetcher, record)

	statsFetches := fetcher.fetchCount()
	outcome, err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("outcome = %v, 期望 accepted (缓存已满足阈值)", outcome)
	}

	if len(record.PullRequests) != 4 {
		t.Errorf("PR数 = %d, 期望 4 (全部来自缓存)", len(record.PullRequests))
	}

	// 除统计页面外不应有任何列表或详情抓取
	// 统计抓取: 主页 + contributors回退 + issues + pulls = 4次
	if got := fetcher.fetchCount() - statsFetches; got != 4 {
		t.Errorf("抓取次数 = %d, 期望 4 (仅统计页面,零列表/详情抓取)", got)
	}

	// 终态销毁检查点
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Error("检查点文件未删除")
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Error("PR缓存文件未删除")
	}
}

// TestSeedCacheMonotonic 测试缓存的单调并集合并
func TestSeedCacheMonotonic(t *testing.T) {
	machine := NewStateMachine(MachineConfig{}, newStubFetcher(nil),
		models.NewRepositoryRecord(models.InputRepository{URL: testRepoURL}))

	machine.SeedCache([]*models.PullRequest{
		{Number: 1, Title: "原有标题", State: models.PRStateClosed, Detailed: true},
		{Number: 2, State: models.PRStateOpen},
	})
	if machine.CachedCount() != 2 {
		t.Fatalf("CachedCount() = %d, 期望 2", machine.CachedCount())
	}

	// 重复合入不缩小缓存,空字段不清空已有详情
	machine.SeedCache([]*models.PullRequest{
		{Number: 1, State: models.PRStateClosed},
		{Number: 3, State: models.PRStateClosed},
	})
	if machine.CachedCount() != 3 {
		t.Errorf("CachedCount() = %d, 期望 3 (缓存只增不减)", machine.CachedCount())
	}
}
