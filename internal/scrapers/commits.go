package scrapers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

const commitsPerPage = 35

// CommitScraper 仓库提交历史抓取器
// 抓取目标分支的提交SHA列表,供合并提交检测的分支映射策略使用
type CommitScraper struct {
	fetcher PageFetcher
}

// NewCommitScraper 创建提交历史抓取器
func NewCommitScraper(fetcher PageFetcher) *CommitScraper {
	return &CommitScraper{fetcher: fetcher}
}

// ScrapeCommits 分页抓取仓库提交SHA(最新在前)
// 单页失败即停止并返回已收集部分,不视为仓库级失败
func (s *CommitScraper) ScrapeCommits(ctx context.Context, repoURL string, maxCommits int) []string {
	commits := make([]string, 0, maxCommits)
	seen := make(map[string]bool)

	maxPages := maxCommits/commitsPerPage + 1
	for page := 1; page <= maxPages && len(commits) < maxCommits; page++ {
		pageURL := transport.BuildPageURL(repoURL, "commits")
		if page > 1 {
			pageURL = fmt.Sprintf("%s?page=%d", pageURL, page)
		}

		doc, err := s.fetcher.Document(ctx, pageURL)
		if err != nil {
			utils.Debugf("提交历史页抓取失败 %s: %v", pageURL, err)
			break
		}

		pageCommits := extractCommitSHAs(doc)
		if len(pageCommits) == 0 {
			break
		}

		for _, sha := range pageCommits {
			if seen[sha] {
				continue
			}
			seen[sha] = true
			commits = append(commits, sha)
			if len(commits) >= maxCommits {
				break
			}
		}
	}

	return commits
}

// extractCommitSHAs 从提交列表页提取完整SHA(保持页面顺序)
func extractCommitSHAs(doc *goquery.Document) []string {
	shas := make([]string, 0)
	doc.Find("a[href*='/commit/']").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		m := commitHrefPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		shas = append(shas, strings.ToLower(m[1]))
	})
	return shas
}
