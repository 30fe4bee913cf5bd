package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// CrawlState 单个仓库的抓取检查点
// 持久化发现进度与已抓取的PR编号,支持断点续爬
type CrawlState struct {
	// 任务信息
	TaskID  string `json:"task_id"`  // 任务唯一ID (UUID)
	RepoURL string `json:"repo_url"` // 仓库URL

	// 发现进度
	LastOpenPage        int      `json:"last_open_page"`        // 开放PR列表已抓到的页码
	LastClosedPage      int      `json:"last_closed_page"`      // 关闭PR列表已抓到的页码
	OpenPagesComplete   bool     `json:"open_pages_complete"`   // 开放PR分页是否抓完
	ClosedPagesComplete bool     `json:"closed_pages_complete"` // 关闭PR分页是否抓完
	DiscoveredPRURLs    []string `json:"discovered_pr_urls"`    // 已发现的PR URL列表

	// 抓取进度
	ScrapedPRNumbers []int    `json:"scraped_pr_numbers"` // 已成功抓取的PR编号
	FailedPRURLs     []string `json:"failed_pr_urls"`     // 抓取失败的PR URL

	// 状态机进度
	AttemptsUsed int `json:"attempts_used"` // 已用重试轮次

	// 时间戳
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CrawlStateFilename 生成检查点文件名
func CrawlStateFilename(repoURL string) string {
	name := strings.ReplaceAll(RepoName(repoURL), "/", "_")
	return fmt.Sprintf("state_%s.json", name)
}

// PRCacheFilename 生成PR缓存文件名(JSONL,每行一个PR)
func PRCacheFilename(repoURL string) string {
	name := strings.ReplaceAll(RepoName(repoURL), "/", "_")
	return fmt.Sprintf("prs_%s.jsonl", name)
}

// ToJSON 序列化为JSON
func (s *CrawlState) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SaveToFile 保存到文件
func (s *CrawlState) SaveToFile(path string) error {
	s.UpdatedAt = time.Now()
	data, err := s.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadCrawlStateFromFile 从文件加载检查点
func LoadCrawlStateFromFile(path string) (*CrawlState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s CrawlState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
