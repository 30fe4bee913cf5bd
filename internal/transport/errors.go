package transport

import (
	"errors"
	"fmt"
)

// ErrNotFound 页面不存在(404)
// 调用方据此区分"资源缺失"与"抓取失败",缺失按debug级别记录
var ErrNotFound = errors.New("页面不存在")

// ErrMalformed 页面结构不符合预期
// 所有解析策略均失败时返回,调用方降级处理对应字段
var ErrMalformed = errors.New("页面结构异常")

// FetchError 抓取失败错误
// Transient为true表示瞬时故障(超时/连接重置/5xx/429),可重试
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

// Error 实现error接口
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("抓取失败 %s: 状态码 %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("抓取失败 %s: %v", e.URL, e.Err)
}

// Unwrap 支持errors.Is/As链式判断
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否为可重试的瞬时故障
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}

// IsNotFound 判断错误是否为404
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
