package scrapers

import "strings"

// normalizeSpace 压缩文本中的连续空白为单个空格并去除首尾空白
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// containsFold 不区分大小写的子串匹配
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
