package scrapers

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/RepoCrawl/internal/transport"
)

// stubFetcher 测试桩: 按URL返回预置页面,未预置的URL返回404
type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetches int
}

func newStubFetcher(pages map[string]string) *stubFetcher {
	return &stubFetcher{pages: pages}
}

func (f *stubFetcher) Fetch(_ context.Context, pageURL string) ([]byte, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()

	if html, ok := f.pages[pageURL]; ok {
		return []byte(html), nil
	}
	return nil, &transport.FetchError{
		URL:        pageURL,
		StatusCode: http.StatusNotFound,
		Err:        transport.ErrNotFound,
	}
}

func (f *stubFetcher) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(string(body)))
}

func (f *stubFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}
