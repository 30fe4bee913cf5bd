package scrapers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

const (
	// 连续空页达到该数量即认为分页结束
	maxConsecutiveEmptyPages = 2
)

// prListSelectors PR列表页链接选择器,按优先级排列
var prListSelectors = []string{
	"a.Link--primary[href*='/pull/']",
	".js-navigation-item a[href*='/pull/']",
	"a[href*='/pull/']",
}

// PRListScraper PR列表分页发现器
// 按状态分页抓取PR引用,遇到连续空页或达到上限即停止
type PRListScraper struct {
	fetcher PageFetcher
}

// NewPRListScraper 创建PR列表抓取器
func NewPRListScraper(fetcher PageFetcher) *PRListScraper {
	return &PRListScraper{fetcher: fetcher}
}

// ListPageURL 构造PR列表分页URL
func ListPageURL(repoURL string, state models.PRState, page int) string {
	return fmt.Sprintf("%s/pulls?q=is%%3Apr+is%%3A%s&page=%d",
		strings.TrimRight(repoURL, "/"), state, page)
}

// DiscoverResult 单轮发现的结果
type DiscoverResult struct {
	Refs      []models.PRRef // 新发现的PR引用(发现顺序)
	LastPage  int            // 最后抓取的页码
	PagesDone bool           // 分页是否已走到尽头
}

// Discover 从指定页码开始分页发现PR
// skip中已有的编号不重复返回; limit>0时发现数量达到上限即提前停止
func (s *PRListScraper) Discover(
	ctx context.Context,
	repoURL string,
	state models.PRState,
	startPage int,
	limit int,
	skip map[int]bool,
) (*DiscoverResult, error) {
	result := &DiscoverResult{LastPage: startPage - 1}
	emptyStreak := 0

	for page := startPage; ; page++ {
		pageURL := ListPageURL(repoURL, state, page)
		doc, err := s.fetcher.Document(ctx, pageURL)
		if err != nil {
			if transport.IsNotFound(err) {
				result.PagesDone = true
				return result, nil
			}
			return result, err
		}

		refs := extractPRRefs(doc, repoURL, state)
		result.LastPage = page

		if len(refs) == 0 {
			emptyStreak++
			if emptyStreak >= maxConsecutiveEmptyPages {
				result.PagesDone = true
				utils.Debugf("PR分页结束: %s %s 第%d页", repoURL, state, page)
				return result, nil
			}
			continue
		}
		emptyStreak = 0

		for _, ref := range refs {
			if skip[ref.Number] {
				continue
			}
			skip[ref.Number] = true
			result.Refs = append(result.Refs, ref)

			if limit > 0 && len(result.Refs) >= limit {
				// 页内中途停止时本页可能还有未消费的引用,下轮从本页重读(skip负责去重)
				result.LastPage = page - 1
				return result, nil
			}
		}
	}
}

// extractPRRefs 从列表页文档提取PR引用
// 多个选择器按优先级尝试,页面内去重并保持出现顺序
func extractPRRefs(doc *goquery.Document, repoURL string, state models.PRState) []models.PRRef {
	seen := make(map[int]bool)
	refs := make([]models.PRRef, 0)

	for _, selector := range prListSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok || !strings.Contains(href, "/pull/") {
				return
			}

			number := ParseRefNumber(href)
			if number == 0 || seen[number] {
				return
			}
			seen[number] = true

			fullURL := href
			if strings.HasPrefix(href, "/") {
				fullURL = "https://github.com" + href
			} else if !strings.HasPrefix(href, "http") {
				fullURL = strings.TrimRight(repoURL, "/") + "/" + strings.TrimLeft(href, "/")
			}
			// 剥离行内锚点,统一到PR主页面
			if idx := strings.IndexAny(fullURL, "?#"); idx >= 0 {
				fullURL = fullURL[:idx]
			}

			refs = append(refs, models.PRRef{
				Number: number,
				URL:    fullURL,
				State:  state,
			})
		})
		if len(refs) > 0 {
			break
		}
	}
	return refs
}
