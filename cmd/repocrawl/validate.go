package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidateFlags 验证命令行参数
func ValidateFlags(inputFiles []string, proxyURL string, starThreshold, maxClosedPRs, maxWorkers int) error {
	for _, path := range inputFiles {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("输入文件不存在: %s", path)
		}
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("代理地址无效: %s", proxyURL)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "socks5" {
			return fmt.Errorf("代理协议必须是http、https或socks5: %s", proxyURL)
		}
	}

	if starThreshold < 0 {
		return fmt.Errorf("星数阈值不能为负数: %d", starThreshold)
	}
	if maxClosedPRs < 0 {
		return fmt.Errorf("关闭PR上限不能为负数: %d", maxClosedPRs)
	}
	if maxWorkers < 0 || maxWorkers > 64 {
		return fmt.Errorf("工作协程数必须在0-64之间: %d", maxWorkers)
	}

	return nil
}

// ParseHeaderFlags 解析 'Name: Value' 形式的头部参数
func ParseHeaderFlags(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("HTTP头部格式无效(应为 'Name: Value'): %s", h)
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return headers, nil
}
