package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
)

// RecordSink 仓库记录输出槽
// 接受定稿记录,按到达顺序写出
type RecordSink interface {
	Emit(record *models.RepositoryRecord) error
	Close() error
}

// JSONLSink 追加式JSONL输出
// 每条记录一行,写入加锁保证并发安全,任意位置截断仍是合法的部分文件
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink 创建JSONL输出槽,父目录不存在时自动创建
func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("输出目录创建失败 %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("输出文件打开失败 %s: %w", path, err)
	}
	return &JSONLSink{file: f}, nil
}

// Emit 写出一条定稿记录
func (s *JSONLSink) Emit(record *models.RepositoryRecord) error {
	line, err := record.ToJSONLine()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("记录写出失败: %w", err)
	}
	// 每条记录立即落盘,中途失败也保住已完成部分
	return s.file.Sync()
}

// Close 关闭输出文件
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
