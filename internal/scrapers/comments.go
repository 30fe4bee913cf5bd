package scrapers

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
)

const (
	minCommentLength = 5
	maxCommentLength = 2000
)

// legacyCommentSelectors 静态时间线评论选择器
var legacyCommentSelectors = []string{
	".timeline-comment",
	".js-timeline-item",
}

// legacyContentSelectors 评论正文选择器,按优先级排列
var legacyContentSelectors = []string{
	".comment-body",
	".timeline-comment-body",
	".edit-comment-hide",
}

// ExtractComments 提取PR时间线中的全部评论(时间升序)
// 优先解析script元素中内嵌的查询结果载荷,无载荷时回退到静态标记解析
func ExtractComments(doc *goquery.Document) []models.Comment {
	if comments := extractEmbeddedComments(doc); len(comments) > 0 {
		return comments
	}
	return extractLegacyComments(doc)
}

// extractEmbeddedComments 从内嵌JSON载荷提取评论
// 前端将时间线数据序列化在application/json脚本中,递归遍历其edge/node结构,
// 过滤出评论类型节点并按时间排序
func extractEmbeddedComments(doc *goquery.Document) []models.Comment {
	comments := make([]models.Comment, 0)

	doc.Find("script[type='application/json']").Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var payload interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return
		}

		walkPayload(payload, &comments)
	})

	sortComments(comments)
	return comments
}

// walkPayload 递归遍历载荷,收集评论类型节点
func walkPayload(v interface{}, out *[]models.Comment) {
	switch node := v.(type) {
	case map[string]interface{}:
		if c, ok := commentFromNode(node); ok {
			*out = append(*out, c)
			return
		}
		for _, child := range node {
			walkPayload(child, out)
		}
	case []interface{}:
		for _, child := range node {
			walkPayload(child, out)
		}
	}
}

// commentFromNode 判断节点是否为评论并提取字段
// 评论节点特征: __typename含Comment,或同时具备author与正文字段
func commentFromNode(node map[string]interface{}) (models.Comment, bool) {
	typename, _ := node["__typename"].(string)
	body := stringField(node, "bodyText", "body", "bodyHTML")
	author := authorLogin(node)

	isComment := strings.Contains(typename, "Comment") ||
		(typename == "" && author != "" && body != "")
	if !isComment || body == "" {
		return models.Comment{}, false
	}

	content := normalizeSpace(body)
	if len(content) < minCommentLength {
		return models.Comment{}, false
	}
	content = truncateComment(content)

	if author == "" {
		author = "unknown"
	}
	return models.Comment{
		Author:    author,
		Timestamp: stringField(node, "createdAt", "created_at", "updatedAt"),
		Content:   content,
	}, true
}

// authorLogin 从节点提取作者登录名
func authorLogin(node map[string]interface{}) string {
	author, ok := node["author"].(map[string]interface{})
	if !ok {
		return ""
	}
	login, _ := author["login"].(string)
	return login
}

// stringField 按候选键顺序取第一个非空字符串字段
func stringField(node map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := node[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// extractLegacyComments 从静态时间线标记提取评论
func extractLegacyComments(doc *goquery.Document) []models.Comment {
	comments := make([]models.Comment, 0)

	for _, selector := range legacyCommentSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if c, ok := legacyComment(sel); ok {
				comments = append(comments, c)
			}
		})
	}

	sortComments(comments)
	return comments
}

// legacyComment 从单个时间线元素提取评论
func legacyComment(sel *goquery.Selection) (models.Comment, bool) {
	author := normalizeSpace(sel.Find(".author").First().Text())
	if author == "" {
		author = "unknown"
	}

	timestamp, _ := sel.Find("relative-time[datetime]").First().Attr("datetime")

	content := ""
	for _, cs := range legacyContentSelectors {
		if text := normalizeSpace(sel.Find(cs).First().Text()); text != "" {
			content = text
			break
		}
	}

	if len(content) < minCommentLength {
		return models.Comment{}, false
	}

	return models.Comment{
		Author:    author,
		Timestamp: timestamp,
		Content:   truncateComment(content),
	}, true
}

// truncateComment 截断超长评论
// 截断点回退到rune边界,避免把多字节字符切成非法UTF-8尾部
func truncateComment(content string) string {
	if len(content) <= maxCommentLength {
		return content
	}
	cut := maxCommentLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

// sortComments 按时间戳升序排序(稳定,保持同时间戳的出现顺序)
func sortComments(comments []models.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].Timestamp < comments[j].Timestamp
	})
}
