package config

import "net/http"

// DefaultHeaders 默认浏览器请求头
// 模拟真实浏览器访问,避免被站点识别为脚本流量
func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Accept-Encoding":           "gzip, deflate, br",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
	}
}

// HeaderProvider 请求头提供器
// 合并顺序: 默认头 < 配置文件覆盖 < 命令行覆盖,后者优先
type HeaderProvider struct {
	headers map[string]string
}

// NewHeaderProvider 创建请求头提供器
func NewHeaderProvider(overrides ...map[string]string) *HeaderProvider {
	merged := DefaultHeaders()
	for _, o := range overrides {
		for k, v := range o {
			if v == "" {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
	}
	return &HeaderProvider{headers: merged}
}

// Apply 将请求头应用到HTTP请求
func (p *HeaderProvider) Apply(req *http.Request) {
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

// Get 获取单个请求头的值
func (p *HeaderProvider) Get(key string) string {
	return p.headers[key]
}
