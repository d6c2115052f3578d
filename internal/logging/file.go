package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active session log inside the log directory. Rotated
// backups are compressed next to it.
const LogFileName = "toolloop.log"

// FileWriter appends every entry, whatever its level, to a size-rotated
// session log. The file is opened on the first write so commands that never
// log leave no trace on disk.
type FileWriter struct {
	dir      string
	rotation Rotation

	once    sync.Once
	openErr error

	mu  sync.Mutex
	out *lumberjack.Logger
}

func newFileWriter(cfg Config) *FileWriter {
	r := cfg.Rotation
	if r.MaxSizeMB <= 0 {
		r.MaxSizeMB = 10
	}
	return &FileWriter{dir: cfg.LogDir, rotation: r}
}

func (f *FileWriter) open() error {
	f.once.Do(func() {
		dir, err := filepath.Abs(f.dir)
		if err != nil {
			f.openErr = fmt.Errorf("resolve log directory: %w", err)
			return
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			f.openErr = fmt.Errorf("create log directory: %w", err)
			return
		}
		out := &lumberjack.Logger{
			Filename:   filepath.Join(dir, LogFileName),
			MaxSize:    f.rotation.MaxSizeMB,
			MaxBackups: f.rotation.MaxBackups,
			MaxAge:     f.rotation.MaxAgeDays,
			Compress:   true,
		}
		_, _ = fmt.Fprintf(out, "=== toolloop %s pid %d ===\n", time.Now().Format(time.DateTime), os.Getpid())
		f.mu.Lock()
		f.out = out
		f.mu.Unlock()
	})
	return f.openErr
}

func (f *FileWriter) write(e entry) error {
	if f == nil || f.dir == "" {
		return nil
	}
	if err := f.open(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return nil
	}
	_, err := io.WriteString(f.out, e.text(fmt.Sprintf("%-5s", e.level)))
	return err
}

// Path is the active log file, or "" before the first write.
func (f *FileWriter) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return ""
	}
	return f.out.Filename
}

func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return nil
	}
	err := f.out.Close()
	f.out = nil
	return err
}
