package scrapers

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	kSuffixPattern   = regexp.MustCompile(`([\d.]+)k`)
	commaNumPattern  = regexp.MustCompile(`[\d,]+`)
	prNumberPattern  = regexp.MustCompile(`/pull/(\d+)`)
	issueRefPattern  = regexp.MustCompile(`#(\d+)`)
	issueHrefPattern = regexp.MustCompile(`/issues/(\d+)$`)
)

// ParseCount 解析页面上的计数文本
// 支持 "74.8k" 和 "1,234" 两种形式,解析失败返回0
func ParseCount(text string) int {
	lower := strings.ToLower(strings.TrimSpace(text))

	// k后缀形式: "74.8k" -> 74800
	if strings.Contains(lower, "k") {
		if m := kSuffixPattern.FindStringSubmatch(lower); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				return int(f * 1000)
			}
		}
	}

	// 带千位分隔符形式: "1,234" -> 1234
	if m := commaNumPattern.FindString(lower); m != "" {
		if n, err := strconv.Atoi(strings.ReplaceAll(m, ",", "")); err == nil {
			return n
		}
	}

	return 0
}

// ParseRefNumber 从PR URL提取PR编号
// 先剥离查询参数和片段,确保 ".../pull/42?diff=unified#discussion_r123" 解析为42
func ParseRefNumber(prURL string) int {
	cleaned := prURL
	if idx := strings.IndexAny(cleaned, "?#"); idx >= 0 {
		cleaned = cleaned[:idx]
	}

	m := prNumberPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ExtractIssueRefs 从文本中提取Issue引用编号(#123形式)
// 保持首次出现顺序去重,最多返回limit个
func ExtractIssueRefs(text string, limit int) []int {
	seen := make(map[int]bool)
	refs := make([]int, 0)

	for _, m := range issueRefPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, n)
		if limit > 0 && len(refs) >= limit {
			break
		}
	}
	return refs
}
