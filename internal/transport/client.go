package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/RecoveryAshes/RepoCrawl/internal/config"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

// ClientConfig HTTP客户端配置
type ClientConfig struct {
	ProxyURL       string        // 代理地址,所有请求强制走代理
	Timeout        time.Duration // 单次请求超时
	MaxRetries     int           // 瞬时故障最大重试次数
	RetryBaseDelay time.Duration // 重试基础延迟(指数退避起点)
	RatePerSecond  float64       // 全局请求速率(令牌桶)
	MaxInFlight    int           // 全局并发请求上限
}

// DefaultClientConfig 默认客户端配置
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		RatePerSecond:  5,
		MaxInFlight:    10,
	}
}

// Client 带代理、限速和重试的HTTP抓取客户端
// 速率限制与并发上限为全局共享,所有工作协程复用同一实例
type Client struct {
	httpClient *http.Client
	headers    *config.HeaderProvider
	config     ClientConfig
	limiter    *rate.Limiter
	inFlight   chan struct{}
}

// NewClient 创建抓取客户端
// proxyURL非空时所有请求(含HTTPS)经代理转发; 未设置的字段取默认配置值
func NewClient(cfg ClientConfig, headers *config.HeaderProvider) (*Client, error) {
	defaults := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaults.RatePerSecond
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaults.MaxInFlight
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("代理URL解析失败: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		headers:  headers,
		config:   cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1),
		inFlight: make(chan struct{}, cfg.MaxInFlight),
	}, nil
}

// Fetch 抓取URL并返回解压后的响应体
// 瞬时故障(超时/连接重置/5xx/429)按指数退避重试,404立即返回ErrNotFound
func (c *Client) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			utils.Debugf("重试抓取 %s (第%d次, 延迟%v)", pageURL, attempt, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.fetchOnce(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// 非瞬时故障不重试
		if !IsTransient(err) {
			return nil, err
		}
	}

	utils.Warnf("抓取重试耗尽: %s", pageURL)
	return nil, lastErr
}

// Document 抓取URL并解析为goquery文档
// 非UTF-8页面先做字符集归一化再解析
func (c *Client) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := c.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	reader, err := charset.NewReader(bytes.NewReader(body), "text/html")
	if err != nil {
		reader = bytes.NewReader(body)
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("HTML解析失败 %s: %w", pageURL, err)
	}
	return doc, nil
}

// fetchOnce 执行单次抓取,含限速和并发控制
func (c *Client) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	// 令牌桶限速
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// 全局并发上限
	select {
	case c.inFlight <- struct{}{}:
		defer func() { <-c.inFlight }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	if c.headers != nil {
		c.headers.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 超时和连接错误均视为瞬时故障
		return nil, &FetchError{URL: pageURL, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(pageURL, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	reader, err := decompressResponse(resp)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Transient: true, Err: fmt.Errorf("解压失败: %w", err)}
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Transient: true, Err: err}
	}
	return body, nil
}

// classifyStatus 按状态码分类响应
// 2xx成功; 404返回ErrNotFound; 429和5xx为瞬时故障; 其余4xx为永久失败
func classifyStatus(pageURL string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return &FetchError{URL: pageURL, StatusCode: status, Err: ErrNotFound}
	case status == http.StatusTooManyRequests || status >= 500:
		return &FetchError{URL: pageURL, StatusCode: status, Transient: true, Err: fmt.Errorf("服务端瞬时错误")}
	default:
		return &FetchError{URL: pageURL, StatusCode: status, Err: fmt.Errorf("请求被拒绝")}
	}
}

// backoffDelay 计算第attempt次重试的退避延迟
// 指数增长并叠加±10%抖动,避免重试风暴
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.config.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(float64(delay) * 0.1 * (rand.Float64()*2 - 1))
	return delay + jitter
}

// BuildPageURL 拼接仓库子页面URL
func BuildPageURL(repoURL string, parts ...string) string {
	base := strings.TrimRight(repoURL, "/")
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}
