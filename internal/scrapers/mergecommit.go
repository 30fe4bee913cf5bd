package scrapers

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	mergedPhrasePattern = regexp.MustCompile(`(?i)merged commit ([a-f0-9]{6,40}) into`)
	commitHrefPattern   = regexp.MustCompile(`/commit/([a-f0-9]{40})(?:/|$|\?|#)`)
	headShaPattern      = regexp.MustCompile(`(?i)\b([a-f0-9]{40})\b`)
	fullShaPattern      = regexp.MustCompile(`^[a-f0-9]{40}$`)
)

// mergeContextKeywords 合并上下文关键词,用于交叉验证提交链接
var mergeContextKeywords = []string{"merged", "merge", "into main", "into master"}

// MergeCommitScraper 合并提交检测器
// 三个策略按严格优先级尝试,首个成功即返回:
//  1. 时间线中的 "merged commit <sha> into" 短语
//  2. 具有合并上下文的提交链接
//  3. 特性分支头提交到目标分支历史的映射
type MergeCommitScraper struct{}

// NewMergeCommitScraper 创建合并提交检测器
func NewMergeCommitScraper() *MergeCommitScraper {
	return &MergeCommitScraper{}
}

// Extract 从PR详情页检测合并提交SHA
// branchCommits为目标分支提交历史(可为nil),全部策略失败返回空串
func (s *MergeCommitScraper) Extract(doc *goquery.Document, branchCommits []string) string {
	if sha := s.fromMergedPhrase(doc); sha != "" {
		return sha
	}
	if sha := s.fromMergeAnchor(doc); sha != "" {
		return sha
	}
	return s.fromBranchHistory(doc, branchCommits)
}

// fromMergedPhrase 策略1: 匹配页面文本中的合并短语
// 短SHA尽量通过页面内的完整提交链接解析为40位SHA,解析不到时保留短SHA
func (s *MergeCommitScraper) fromMergedPhrase(doc *goquery.Document) string {
	m := mergedPhrasePattern.FindStringSubmatch(doc.Text())
	if m == nil {
		return ""
	}

	sha := strings.ToLower(m[1])
	if len(sha) == 40 {
		return sha
	}
	if full := s.resolveFullSHA(doc, sha); full != "" {
		return full
	}
	return sha
}

// fromMergeAnchor 策略2: 遍历提交链接,交叉验证合并上下文
// 仅当链接自身或其父级文本包含合并关键词时才采信
func (s *MergeCommitScraper) fromMergeAnchor(doc *goquery.Document) string {
	sha := ""
	doc.Find("a[href*='/commit/']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		m := commitHrefPattern.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		if !hasMergeContext(sel) {
			return true
		}
		sha = strings.ToLower(m[1])
		return false
	})
	return sha
}

// fromBranchHistory 策略3: 特性分支头提交映射到目标分支历史
// 页面中出现的完整SHA若存在于目标分支提交列表,即视为合并提交
func (s *MergeCommitScraper) fromBranchHistory(doc *goquery.Document, branchCommits []string) string {
	if len(branchCommits) == 0 {
		return ""
	}

	inBranch := make(map[string]bool, len(branchCommits))
	for _, c := range branchCommits {
		inBranch[strings.ToLower(c)] = true
	}

	for _, m := range headShaPattern.FindAllStringSubmatch(doc.Text(), -1) {
		sha := strings.ToLower(m[1])
		if inBranch[sha] {
			return sha
		}
	}
	return ""
}

// resolveFullSHA 用短SHA前缀在页面提交链接中查找完整SHA
func (s *MergeCommitScraper) resolveFullSHA(doc *goquery.Document, shortSHA string) string {
	full := ""
	doc.Find("a[href*='/commit/']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		m := commitHrefPattern.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		candidate := strings.ToLower(m[1])
		if strings.HasPrefix(candidate, shortSHA) {
			full = candidate
			return false
		}
		return true
	})
	return full
}

// hasMergeContext 判断链接是否位于合并上下文中
func hasMergeContext(sel *goquery.Selection) bool {
	text := strings.ToLower(sel.Text())
	for _, kw := range mergeContextKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}

	parentText := strings.ToLower(sel.Parent().Text())
	for _, kw := range mergeContextKeywords {
		if strings.Contains(parentText, kw) {
			return true
		}
	}
	return false
}

// ValidCommitSHA 校验字符串是否为完整的40位提交SHA
func ValidCommitSHA(sha string) bool {
	return fullShaPattern.MatchString(strings.ToLower(sha))
}
