package scrapers

import (
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

const maxRelatedIssues = 5

// prStateSelectors PR状态标记选择器,按优先级排列
var prStateSelectors = []string{
	".State--merged",
	".State--closed",
	".State--open",
	"[data-hovercard-type='pull_request'] .State",
	".gh-header-meta .State",
}

// PRDetailScraper PR详情页抓取器
// 从详情页提取标题、状态、标签、评论、关联Issue和合并提交
type PRDetailScraper struct {
	fetcher PageFetcher
	merge   *MergeCommitScraper
}

// NewPRDetailScraper 创建PR详情抓取器
func NewPRDetailScraper(fetcher PageFetcher) *PRDetailScraper {
	return &PRDetailScraper{
		fetcher: fetcher,
		merge:   NewMergeCommitScraper(),
	}
}

// Scrape 抓取单个PR的完整详情
// branchCommits为目标分支的提交历史,供合并提交检测的分支映射策略使用,可为nil
func (s *PRDetailScraper) Scrape(ctx context.Context, ref models.PRRef, branchCommits []string) (*models.PullRequest, error) {
	doc, err := s.fetcher.Document(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	title, titleErr := extractTitle(doc)
	if titleErr != nil {
		// 标题的全部选择器策略都未命中,字段级降级
		utils.Warnf("PR标题解析失败 %s: %v", ref.URL, titleErr)
	}

	pr := &models.PullRequest{
		Number:   ref.Number,
		URL:      ref.URL,
		Title:    title,
		State:    extractState(doc),
		Tags:     extractTags(doc),
		Detailed: true,
	}

	pr.Comments = ExtractComments(doc)

	// 正文#N引用优先,不足时用侧栏关联Issue链接补齐
	issues := ExtractIssueRefs(doc.Text(), maxRelatedIssues)
	issues = appendLinkedIssues(doc, ref.URL, issues, maxRelatedIssues)
	pr.RelatedIssues = models.SortIssueNumbers(issues)

	// 合并提交仅对merged状态检测,closed未合并属正常情况不检测
	if pr.State == models.PRStateMerged {
		if sha := s.merge.Extract(doc, branchCommits); sha != "" {
			pr.CommitID = sha
		} else {
			utils.Debugf("PR #%d 已合并但未检测到合并提交: %s", pr.Number, pr.URL)
		}
	}

	return pr, nil
}

// extractTitle 提取PR标题
// 两个选择器策略都未命中时返回ErrMalformed
func extractTitle(doc *goquery.Document) (string, error) {
	if title := doc.Find("h1.gh-header-title").First().Text(); title != "" {
		return normalizeSpace(title), nil
	}
	if title := doc.Find("span.js-issue-title").First().Text(); title != "" {
		return normalizeSpace(title), nil
	}
	return "", transport.ErrMalformed
}

// extractState 提取PR状态
// 无法判定时默认open
func extractState(doc *goquery.Document) models.PRState {
	for _, selector := range prStateSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := normalizeSpace(sel.Text())
		switch {
		case containsFold(text, "merged"):
			return models.PRStateMerged
		case containsFold(text, "closed"):
			return models.PRStateClosed
		case containsFold(text, "open"):
			return models.PRStateOpen
		}
	}
	return models.PRStateOpen
}

// appendLinkedIssues 从页面内指向本仓库的Issue链接补充关联编号
// 仅统计本仓库路径下的/issues/N链接,跨仓库引用不计
func appendLinkedIssues(doc *goquery.Document, prURL string, issues []int, limit int) []int {
	repoPath := prURL
	if idx := strings.Index(repoPath, "/pull/"); idx >= 0 {
		repoPath = repoPath[:idx]
	}
	repoPath = strings.TrimPrefix(repoPath, "https://github.com")

	seen := make(map[int]bool, len(issues))
	for _, n := range issues {
		seen[n] = true
	}

	doc.Find("a[href*='/issues/']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimPrefix(href, "https://github.com")
		if !strings.HasPrefix(href, repoPath+"/issues/") {
			return true
		}
		n := parseIssueHrefNumber(href)
		if n <= 0 || seen[n] {
			return true
		}
		seen[n] = true
		issues = append(issues, n)
		return limit <= 0 || len(issues) < limit
	})
	return issues
}

// parseIssueHrefNumber 从Issue链接提取编号,带查询参数或片段的链接同样适用
func parseIssueHrefNumber(href string) int {
	if idx := strings.IndexAny(href, "?#"); idx >= 0 {
		href = href[:idx]
	}
	m := issueHrefPattern.FindStringSubmatch(href)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// extractTags 提取PR标签
func extractTags(doc *goquery.Document) []string {
	tags := make([]string, 0)
	seen := make(map[string]bool)
	doc.Find("a.IssueLabel").Each(func(_ int, sel *goquery.Selection) {
		tag := normalizeSpace(sel.Text())
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	})
	return tags
}
