package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// TestInitLoggerDefaults 测试空字段回退到默认配置
func TestInitLoggerDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	if err := InitLogger(LogConfig{LogDir: dir}); err != nil {
		t.Fatalf("InitLogger() 失败: %v", err)
	}

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("日志目录未创建: %v", err)
	}
	// 未指定级别时回退到默认info
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("全局日志级别 = %v, 期望 info", zerolog.GlobalLevel())
	}
}

// TestFilteredWriterLevel 测试错误日志文件只接收error及以上级别
func TestFilteredWriterLevel(t *testing.T) {
	var buf discardCounter
	w := &FilteredWriter{Writer: &buf, MinLevel: zerolog.ErrorLevel}

	if _, err := w.WriteLevel(zerolog.InfoLevel, []byte("info行")); err != nil {
		t.Fatalf("WriteLevel(info) 失败: %v", err)
	}
	if buf.writes != 0 {
		t.Errorf("info级别写入数 = %d, 期望 0 (低于阈值被过滤)", buf.writes)
	}

	if _, err := w.WriteLevel(zerolog.ErrorLevel, []byte("error行")); err != nil {
		t.Fatalf("WriteLevel(error) 失败: %v", err)
	}
	if buf.writes != 1 {
		t.Errorf("error级别写入数 = %d, 期望 1", buf.writes)
	}
}

// discardCounter 只计数的写入器
type discardCounter struct {
	writes int
}

func (d *discardCounter) Write(p []byte) (int, error) {
	d.writes++
	return len(p), nil
}
