package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RepositoryStats 仓库统计信息
// 各计数来自多个页面的组合抓取(主页/issues页/pulls页),缺失字段保持0
type RepositoryStats struct {
	ContributorsCount  int `json:"contributors_count"`   // 贡献者数量
	ForksCount         int `json:"forks_count"`          // Fork数量
	TotalIssues        int `json:"total_issues"`         // Issue总数
	OpenIssues         int `json:"open_issues"`          // 开放Issue数
	ClosedIssues       int `json:"closed_issues"`        // 关闭Issue数
	TotalPullRequests  int `json:"total_pull_requests"`  // PR总数
	OpenPullRequests   int `json:"open_pull_requests"`   // 开放PR数
	ClosedPullRequests int `json:"closed_pull_requests"` // 关闭PR数
}

// RepositoryRecord 完整的仓库抓取记录
// 仓库通过星数过滤后创建,增量填充,最终恰好定稿一次(接受或丢弃)
type RepositoryRecord struct {
	// 原始输入数据
	URL       string   `json:"url"`
	Stars     int      `json:"stars"`
	Languages []string `json:"language"`

	// 抓取的统计信息
	Stats RepositoryStats `json:"stats"`

	// PR详细信息(发现顺序)
	PullRequests []*PullRequest `json:"pull_requests"`

	// 仓库提交历史采样(倒序,最新在前)
	CommitIDs []string `json:"commit_ids,omitempty"`

	// 元数据
	CrawlTimestamp string `json:"crawl_timestamp"`
	CrawlSuccess   bool   `json:"crawl_success"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// NewRepositoryRecord 从输入仓库创建抓取记录
func NewRepositoryRecord(in InputRepository) *RepositoryRecord {
	return &RepositoryRecord{
		URL:            in.URL,
		Stars:          in.Stars,
		Languages:      in.Language,
		PullRequests:   make([]*PullRequest, 0),
		CrawlTimestamp: time.Now().Format(time.RFC3339),
		CrawlSuccess:   true,
	}
}

// ToJSONLine 序列化为单行JSON(JSONL输出格式)
func (r *RepositoryRecord) ToJSONLine() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("序列化仓库记录失败: %w", err)
	}
	return data, nil
}

// RepoName 从仓库URL提取owner/repo形式的短名称
func RepoName(repoURL string) string {
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return repoURL
	}
	return strings.Trim(parsed.Path, "/")
}

// ValidateRepoURL 验证仓库URL格式
func ValidateRepoURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URL格式无效: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL协议必须是http或https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL缺少主机名")
	}
	// 仓库路径至少包含 owner/repo 两段
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("仓库URL路径必须为 owner/repo 形式: %s", parsed.Path)
	}
	return nil
}
