package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/RepoCrawl/internal/config"
)

// TestClassifyStatus 测试响应状态码分类
func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		transient bool
		notFound  bool
		reason    string
	}{
		{
			name:   "200成功",
			status: 200,
			reason: "2xx直接返回响应体",
		},
		{
			name:     "404返回ErrNotFound",
			status:   404,
			wantErr:  true,
			notFound: true,
			reason:   "资源缺失与抓取失败需区分",
		},
		{
			name:      "429限流为瞬时故障",
			status:    429,
			wantErr:   true,
			transient: true,
			reason:    "限流应退避后重试",
		},
		{
			name:      "503为瞬时故障",
			status:    503,
			wantErr:   true,
			transient: true,
			reason:    "5xx服务端错误可重试",
		},
		{
			name:    "403为永久失败",
			status:  403,
			wantErr: true,
			reason:  "除404和429外的4xx不重试",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatus("http://example.com", tt.status)
			if (err != nil) != tt.wantErr {
				t.Fatalf("classifyStatus(%d) err = %v, wantErr %v (%s)", tt.status, err, tt.wantErr, tt.reason)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, 期望 %v (%s)", IsTransient(err), tt.transient, tt.reason)
			}
			if IsNotFound(err) != tt.notFound {
				t.Errorf("IsNotFound = %v, 期望 %v (%s)", IsNotFound(err), tt.notFound, tt.reason)
			}
		})
	}
}

// TestFetchRetriesTransient 测试瞬时故障的自动重试
func TestFetchRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Millisecond,
		RatePerSecond:  100,
		MaxInFlight:    4,
	}, config.NewHeaderProvider())
	if err != nil {
		t.Fatalf("NewClient() 失败: %v", err)
	}

	body, err := client.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() 失败: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, 期望 ok", body)
	}
	if calls.Load() != 3 {
		t.Errorf("请求次数 = %d, 期望 3 (两次503后成功)", calls.Load())
	}
}

// TestFetchNotFoundNoRetry 测试404不重试
func TestFetchNotFoundNoRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Millisecond,
		RatePerSecond:  100,
		MaxInFlight:    4,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() 失败: %v", err)
	}

	_, err = client.Fetch(context.Background(), server.URL)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, 期望 ErrNotFound", err)
	}
	if calls.Load() != 1 {
		t.Errorf("请求次数 = %d, 期望 1 (404不应重试)", calls.Load())
	}
}

// TestNewClientAppliesDefaults 测试零值配置回退到默认值
func TestNewClientAppliesDefaults(t *testing.T) {
	client, err := NewClient(ClientConfig{}, nil)
	if err != nil {
		t.Fatalf("NewClient() 失败: %v", err)
	}

	defaults := DefaultClientConfig()
	if client.config.Timeout != defaults.Timeout {
		t.Errorf("Timeout = %v, 期望默认值 %v", client.config.Timeout, defaults.Timeout)
	}
	if client.config.RatePerSecond != defaults.RatePerSecond {
		t.Errorf("RatePerSecond = %v, 期望默认值 %v", client.config.RatePerSecond, defaults.RatePerSecond)
	}
	if client.config.MaxInFlight != defaults.MaxInFlight {
		t.Errorf("MaxInFlight = %d, 期望默认值 %d", client.config.MaxInFlight, defaults.MaxInFlight)
	}
	if client.config.RetryBaseDelay != defaults.RetryBaseDelay {
		t.Errorf("RetryBaseDelay = %v, 期望默认值 %v", client.config.RetryBaseDelay, defaults.RetryBaseDelay)
	}
}

// TestFetchErrorUnwrap 测试错误链
func TestFetchErrorUnwrap(t *testing.T) {
	fe := &FetchError{URL: "u", StatusCode: 404, Err: ErrNotFound}
	if !errors.Is(fe, ErrNotFound) {
		t.Error("errors.Is(FetchError{ErrNotFound}, ErrNotFound) = false, 期望 true")
	}
}

// TestBuildPageURL 测试子页面URL拼接
func TestBuildPageURL(t *testing.T) {
	got := BuildPageURL("https://github.com/acme/demo/", "graphs", "contributors")
	expected := "https://github.com/acme/demo/graphs/contributors"
	if got != expected {
		t.Errorf("BuildPageURL() = %q, 期望 %q", got, expected)
	}
}
