package scrapers

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

// PageFetcher 页面抓取接口
// 由transport.Client实现,测试中用桩替换
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
	Document(ctx context.Context, pageURL string) (*goquery.Document, error)
}
