package scrapers

import (
	"context"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

var (
	contributorsHrefPattern = regexp.MustCompile(`/graphs/contributors`)
	forksHrefPattern        = regexp.MustCompile(`/forks|/network/members`)
	issueNumHrefPattern     = regexp.MustCompile(`/issues/(\d+)`)
	openPRHrefPatterns      = []*regexp.Regexp{
		regexp.MustCompile(`/pulls\?q=is%3Aopen`),
		regexp.MustCompile(`/pulls\?q=is%3Apr\+is%3Aopen`),
		regexp.MustCompile(`/pulls\?q=is%3Aopen\+is%3Apr`),
	}
	closedPRHrefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/pulls\?q=is%3Aclosed`),
		regexp.MustCompile(`/pulls\?q=is%3Apr\+is%3Aclosed`),
		regexp.MustCompile(`/pulls\?q=is%3Aclosed\+is%3Apr`),
	}
	openIssueHrefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/issues\?q=is%3Aopen`),
		regexp.MustCompile(`/issues\?q=is%3Aissue\+is%3Aopen`),
		regexp.MustCompile(`/issues\?q=is%3Aopen\+is%3Aissue`),
	}
	closedIssueHrefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/issues\?q=is%3Aclosed`),
		regexp.MustCompile(`/issues\?q=is%3Aissue\+is%3Aclosed`),
		regexp.MustCompile(`/issues\?q=is%3Aclosed\+is%3Aissue`),
	}
)

// StatsScraper 仓库统计信息抓取器
// 组合主页、issues页和pulls页的抓取结果,单个字段失败降级为0
type StatsScraper struct {
	fetcher PageFetcher
}

// NewStatsScraper 创建统计抓取器
func NewStatsScraper(fetcher PageFetcher) *StatsScraper {
	return &StatsScraper{fetcher: fetcher}
}

// Scrape 抓取仓库的完整统计信息
// 主页抓取失败视为仓库级失败返回错误,子页面失败仅降级对应字段
func (s *StatsScraper) Scrape(ctx context.Context, repoURL string) (*models.RepositoryStats, error) {
	mainDoc, err := s.fetcher.Document(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	stats := &models.RepositoryStats{}
	stats.ContributorsCount = s.extractContributors(ctx, mainDoc, repoURL)
	stats.ForksCount = extractForks(mainDoc, repoURL)

	// issues页面: 开放数 + 由最新issue编号推算的关闭数
	s.extractIssueCounts(ctx, stats, repoURL)

	// pulls页面: 开放/关闭PR计数
	s.extractPRCounts(ctx, stats, repoURL)

	// 关闭Issue推算需要减去PR总数(issue与PR共享编号空间)
	if stats.ClosedIssues > stats.TotalPullRequests {
		stats.ClosedIssues -= stats.TotalPullRequests
	}
	stats.TotalIssues = stats.OpenIssues + stats.ClosedIssues

	return stats, nil
}

// extractContributors 提取贡献者数量
// 主页贡献者链接文本优先,失败时回退到contributors页面计数
func (s *StatsScraper) extractContributors(ctx context.Context, doc *goquery.Document, repoURL string) int {
	count := 0
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if !contributorsHrefPattern.MatchString(href) {
			return true
		}
		if n := ParseCount(sel.Text()); n > 0 {
			count = n
			return false
		}
		return true
	})
	if count > 0 {
		return count
	}

	// 回退: 抓取insights页面统计贡献者条目
	insightsURL := transport.BuildPageURL(repoURL, "graphs", "contributors")
	insightsDoc, err := s.fetcher.Document(ctx, insightsURL)
	if err != nil {
		utils.Debugf("贡献者页面抓取失败 %s: %v", insightsURL, err)
		return 0
	}
	return insightsDoc.Find("a.Link--primary").Length()
}

// extractForks 提取Fork数量
// 主页缺失fork链接时按畸变内容告警,字段降级为0
func extractForks(doc *goquery.Document, repoURL string) int {
	count, matched := findCountByHref(doc, []*regexp.Regexp{forksHrefPattern})
	if !matched {
		utils.Warnf("fork计数解析失败 %s: %v", repoURL, transport.ErrMalformed)
	}
	return count
}

// extractIssueCounts 从issues页面提取Issue计数
// 开放数来自链接文本,关闭数按 最新issue编号-开放数 推算(编号与PR共享,调用方再扣除PR总数)
func (s *StatsScraper) extractIssueCounts(ctx context.Context, stats *models.RepositoryStats, repoURL string) {
	issuesURL := transport.BuildPageURL(repoURL, "issues")
	doc, err := s.fetcher.Document(ctx, issuesURL)
	if err != nil {
		utils.Debugf("issues页面抓取失败 %s: %v", issuesURL, err)
		return
	}

	open, matchedOpen := findCountByHref(doc, openIssueHrefPatterns)
	stats.OpenIssues = open
	if !matchedOpen {
		utils.Warnf("开放issue计数解析失败 %s: %v", issuesURL, transport.ErrMalformed)
	}

	// 优先直接读取关闭计数链接
	closed, matchedClosed := findCountByHref(doc, closedIssueHrefPatterns)
	if closed > 0 {
		stats.ClosedIssues = closed
		return
	}

	// 回退: 由最新issue编号推算
	latest := latestIssueNumber(doc)
	if latest > stats.OpenIssues {
		stats.ClosedIssues = latest - stats.OpenIssues
	} else if !matchedClosed {
		utils.Warnf("关闭issue计数解析失败 %s: %v", issuesURL, transport.ErrMalformed)
	}
}

// extractPRCounts 从pulls页面提取PR计数
func (s *StatsScraper) extractPRCounts(ctx context.Context, stats *models.RepositoryStats, repoURL string) {
	pullsURL := transport.BuildPageURL(repoURL, "pulls")
	doc, err := s.fetcher.Document(ctx, pullsURL)
	if err != nil {
		utils.Debugf("pulls页面抓取失败 %s: %v", pullsURL, err)
		return
	}

	open, matchedOpen := findCountByHref(doc, openPRHrefPatterns)
	closed, matchedClosed := findCountByHref(doc, closedPRHrefPatterns)
	if !matchedOpen || !matchedClosed {
		utils.Warnf("PR计数解析失败 %s: %v", pullsURL, transport.ErrMalformed)
	}

	stats.OpenPullRequests = open
	stats.ClosedPullRequests = closed
	stats.TotalPullRequests = open + closed
}

// findCountByHref 按href模式列表查找链接并解析其文本中的计数
// 模式按顺序尝试,首个命中即返回; matched为false表示页面上不存在任何匹配链接
func findCountByHref(doc *goquery.Document, patterns []*regexp.Regexp) (count int, matched bool) {
	for _, pattern := range patterns {
		found := 0
		doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			if !pattern.MatchString(href) {
				return true
			}
			matched = true
			if n := ParseCount(sel.Text()); n > 0 {
				found = n
				return false
			}
			return true
		})
		if found > 0 {
			return found, true
		}
	}
	return 0, matched
}

// latestIssueNumber 从issues页面提取最大的issue编号
func latestIssueNumber(doc *goquery.Document) int {
	latest := 0
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		m := issueNumHrefPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		if n := ParseCount(m[1]); n > latest {
			latest = n
		}
	})
	return latest
}
