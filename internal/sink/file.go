package sink

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// defaultMaxSizeMB bounds a single metrics.out file before rotation.
const defaultMaxSizeMB = 100

// File appends lines to BASE_DIR/logs/metrics.out, rotating by size
// (spec.md §4.9's "file" sink). Rotation is handled by
// gopkg.in/natefinch/lumberjack.v2 rather than hand-rolled rename
// logic.
type File struct {
	w *lumberjack.Logger
}

func init() {
	Register("file", func(raw map[string]any, log *zap.SugaredLogger) (Sink, error) {
		dir, _ := raw["dir"].(string)
		if dir == "" {
			dir = "."
		}
		maxSizeMB := defaultMaxSizeMB
		if v, ok := raw["max_size_mb"].(int); ok && v > 0 {
			maxSizeMB = v
		}
		maxBackups := 5
		if v, ok := raw["max_backups"].(int); ok && v > 0 {
			maxBackups = v
		}
		return NewFile(filepath.Join(dir, "logs", "metrics.out"), maxSizeMB, maxBackups), nil
	})
}

// NewFile creates a file sink writing (and rotating) at path.
func NewFile(path string, maxSizeMB, maxBackups int) *File {
	return &File{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}}
}

func (f *File) Send(line string) error {
	_, err := fmt.Fprintln(f.w, line)
	return err
}

func (f *File) Close() error {
	return f.w.Close()
}
