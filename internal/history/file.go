package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/pkg/logger"
)

// FileLog 以 JSON Lines 追加写的方式持久化任务历史，启动时全部恢复到内存。
type FileLog struct {
	mu      sync.RWMutex
	clock   *Clock
	path    string
	file    *os.File
	entries []Entry
}

var _ Log = (*FileLog)(nil)

// NewFileLog 打开（必要时创建）历史文件并恢复已有记录。
func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "历史文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建历史目录失败: %w", err)
	}
	log := &FileLog{clock: NewClock(nil), path: path}
	if err := log.loadFromDisk(); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开历史文件失败: %w", err)
	}
	log.file = file
	return log, nil
}

func (f *FileLog) loadFromDisk() error {
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取历史文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	skipped := 0
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			skipped++
			continue
		}
		f.clock.Observe(entry.Timestamp)
		f.entries = append(f.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析历史文件失败: %w", err)
	}
	if skipped > 0 {
		logger.Named("history").Warn("历史文件中存在无法解析的行", "path", f.path, "skipped", skipped)
	}
	return nil
}

// Append 实现 Log 接口，写盘成功后才对 List 可见。
func (f *FileLog) Append(_ context.Context, entry Entry) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return Entry{}, xerrors.New(xerrors.CodeStorageFailure, "历史文件已关闭")
	}
	f.clock.Stamp(&entry)
	encoded, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("序列化历史记录失败: %w", err)
	}
	if _, err := f.file.Write(append(encoded, '\n')); err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入历史文件失败")
	}
	f.entries = append(f.entries, entry)
	return entry, nil
}

// List 实现 Log 接口。
func (f *FileLog) List(context.Context) ([]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

// Close 实现 Log 接口。
func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
