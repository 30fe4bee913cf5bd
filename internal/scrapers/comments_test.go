package scrapers

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestExtractEmbeddedComments 测试内嵌JSON载荷的评论提取
// 前端将时间线序列化在script元素中,评论藏在edge/node结构里
func TestExtractEmbeddedComments(t *testing.T) {
	html := `<html><body>
<script type="application/json" data-target="react-app.embeddedData">
{
  "payload": {
    "preloadedQueries": [{
      "result": {
        "data": {
          "repository": {
            "pullRequest": {
              "timelineItems": {
                "edges": [
                  {"node": {"__typename": "IssueComment", "author": {"login": "alice"},
                    "createdAt": "2024-03-01T10:00:00Z", "bodyText": "这个改动看起来不错"}},
                  {"node": {"__typename": "MergedEvent", "createdAt": "2024-03-02T08:00:00Z"}},
                  {"node": {"__typename": "IssueComment", "author": {"login": "bob"},
                    "createdAt": "2024-02-28T09:00:00Z", "bodyText": "请先补充测试用例"}}
                ]
              }
            }
          }
        }
      }
    }]
  }
}
</script>
</body></html>`

	comments := ExtractComments(mustDoc(t, html))

	if len(comments) != 2 {
		t.Fatalf("评论数 = %d, 期望 2 (MergedEvent节点应被过滤)", len(comments))
	}
	// 时间升序: bob(02-28)先于alice(03-01)
	if comments[0].Author != "bob" || comments[1].Author != "alice" {
		t.Errorf("评论顺序 = [%s, %s], 期望 [bob, alice] (按时间升序)",
			comments[0].Author, comments[1].Author)
	}
	if comments[0].Content != "请先补充测试用例" {
		t.Errorf("评论内容 = %q, 期望 %q", comments[0].Content, "请先补充测试用例")
	}
}

// TestExtractLegacyComments 测试静态标记回退解析
// 无内嵌载荷时走传统时间线选择器
func TestExtractLegacyComments(t *testing.T) {
	html := `<html><body>
<div class="timeline-comment">
  <a class="author">carol</a>
  <relative-time datetime="2024-01-05T12:00:00Z"></relative-time>
  <div class="comment-body">实现方式有性能问题,建议改用缓存</div>
</div>
<div class="timeline-comment">
  <a class="author">dave</a>
  <relative-time datetime="2024-01-04T12:00:00Z"></relative-time>
  <div class="comment-body">好的</div>
</div>
</body></html>`

	comments := ExtractComments(mustDoc(t, html))

	if len(comments) != 2 {
		t.Fatalf("评论数 = %d, 期望 2", len(comments))
	}
	if comments[0].Author != "dave" {
		t.Errorf("第一条评论作者 = %q, 期望 dave (时间升序)", comments[0].Author)
	}
	if comments[0].Timestamp != "2024-01-04T12:00:00Z" {
		t.Errorf("时间戳 = %q, 期望 2024-01-04T12:00:00Z", comments[0].Timestamp)
	}
}

// TestTruncateCommentRuneBoundary 测试超长评论在rune边界截断
// 中文内容按字节截断会切出非法UTF-8尾部,截断点必须回退到字符边界
func TestTruncateCommentRuneBoundary(t *testing.T) {
	long := strings.Repeat("多字节字符内容", 120) // 2160字节,截断点2000落在字符中间

	got := truncateComment(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("截断结果未以省略号结尾: %q", got[len(got)-12:])
	}
	if !utf8.ValidString(got) {
		t.Error("截断结果不是合法UTF-8, 期望截断点回退到rune边界")
	}
	if len(got) > maxCommentLength+3 {
		t.Errorf("截断后长度 = %d, 期望不超过 %d", len(got), maxCommentLength+3)
	}

	short := "不需要截断的短评论"
	if truncateComment(short) != short {
		t.Error("短内容不应被截断")
	}
}

// TestExtractCommentsSkipsShort 测试过短内容被过滤
func TestExtractCommentsSkipsShort(t *testing.T) {
	html := `<div class="timeline-comment">
  <a class="author">eve</a>
  <div class="comment-body">ok</div>
</div>`

	if comments := ExtractComments(mustDoc(t, html)); len(comments) != 0 {
		t.Errorf("评论数 = %d, 期望 0 (过短内容不保留)", len(comments))
	}
}
