package utils

import (
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// LineHandler 定义行处理函数类型
// line: 要处理的行（不含换行符）
// isImportant: 该行是否包含重要关键字（error, fatal 等）
type LineHandler func(line string, isImportant bool)

// FilteredLineWriter 是一个按行缓冲的 io.Writer，用于接收子进程的
// stderr 输出。ffmpeg 的 stderr 很啰嗦，非 Debug 模式下只处理
// 包含关键字的行。
//
// 使用固定大小的缓冲区避免频繁分配：缓冲区满时强制输出并重置
// 写入位置，强制输出时会对齐 UTF-8 边界避免截断多字节字符。
type FilteredLineWriter struct {
	handler  LineHandler
	keywords []string
	debug    func() bool
	buf      []byte
	pos      int
	mu       sync.Mutex
}

const (
	// DefaultBufSize 默认缓冲区大小
	DefaultBufSize = 8192
	// MaxLineLength 单行最大长度，超过此长度强制输出
	MaxLineLength = 4096
)

// DefaultKeywords 默认的过滤关键字
var DefaultKeywords = []string{"error", "fatal", "fail", "exception", "warning", "warn"}

// NewFilteredLineWriter 创建一个新的 FilteredLineWriter。
// debug 回调返回 true 时输出全部行而不做关键字过滤，传 nil 表示始终过滤。
func NewFilteredLineWriter(handler LineHandler, debug func() bool, keywords ...string) *FilteredLineWriter {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if debug == nil {
		debug = func() bool { return false }
	}
	return &FilteredLineWriter{
		handler:  handler,
		keywords: keywords,
		debug:    debug,
		buf:      make([]byte, DefaultBufSize),
	}
}

func (w *FilteredLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	written := len(p)
	for len(p) > 0 {
		space := len(w.buf) - w.pos
		if space == 0 {
			w.flushBuffer()
			space = len(w.buf)
		}

		n := len(p)
		if n > space {
			n = space
		}
		copy(w.buf[w.pos:], p[:n])
		w.pos += n
		p = p[n:]

		w.processLines()
	}

	return written, nil
}

func (w *FilteredLineWriter) processLines() {
	start := 0
	for i := 0; i < w.pos; i++ {
		if w.buf[i] == '\n' {
			line := string(w.buf[start:i])
			start = i + 1
			if strings.TrimSpace(line) != "" {
				w.handleLine(line)
			}
		}
	}

	if start > 0 {
		remaining := w.pos - start
		if remaining > 0 {
			copy(w.buf, w.buf[start:w.pos])
		}
		w.pos = remaining
	}

	// 超长且无换行的连续数据，强制按 UTF-8 边界切一刀
	if w.pos > MaxLineLength {
		safeEnd := findUTF8SafeBoundary(w.buf[:w.pos])
		line := string(w.buf[:safeEnd])
		remaining := w.pos - safeEnd
		if remaining > 0 {
			copy(w.buf, w.buf[safeEnd:w.pos])
		}
		w.pos = remaining
		w.handleLine(line)
	}
}

func (w *FilteredLineWriter) flushBuffer() {
	if w.pos == 0 {
		return
	}
	safeEnd := findUTF8SafeBoundary(w.buf[:w.pos])
	if safeEnd == 0 {
		// 只剩不完整的 UTF-8 字符，等待更多数据
		return
	}
	line := string(w.buf[:safeEnd])
	remaining := w.pos - safeEnd
	if remaining > 0 {
		copy(w.buf, w.buf[safeEnd:w.pos])
	}
	w.pos = remaining
	if strings.TrimSpace(line) != "" {
		w.handleLine(line)
	}
}

// findUTF8SafeBoundary 返回不会截断多字节字符的最大位置
func findUTF8SafeBoundary(data []byte) int {
	n := len(data)
	if n == 0 {
		return 0
	}

	// UTF-8 字符最长 4 字节，从末尾向前检查起始字节是否完整
	for i := n - 1; i >= 0 && i >= n-4; i-- {
		b := data[i]
		if b&0x80 == 0 {
			return n
		}
		if b&0xC0 == 0xC0 {
			var charLen int
			switch {
			case b&0xF8 == 0xF0:
				charLen = 4
			case b&0xF0 == 0xE0:
				charLen = 3
			case b&0xE0 == 0xC0:
				charLen = 2
			default:
				continue
			}
			if i+charLen <= n {
				return n
			}
			return i
		}
		// 10xxxxxx 续字节，继续向前找
	}

	if utf8.Valid(data) {
		return n
	}
	return n
}

func (w *FilteredLineWriter) handleLine(line string) {
	if w.handler == nil {
		return
	}

	lineLower := strings.ToLower(line)
	isImportant := false
	for _, kw := range w.keywords {
		if strings.Contains(lineLower, kw) {
			isImportant = true
			break
		}
	}

	if w.debug() || isImportant {
		w.handler(line, isImportant)
	}
}

// Flush 强制输出缓冲区中的所有内容
func (w *FilteredLineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushBuffer()
}

// NewEntryWriter 创建一个将过滤后的行写入 logrus Entry 的 writer，
// 按内容自动选择日志级别。
func NewEntryWriter(entry *logrus.Entry, debug func() bool, keywords ...string) io.Writer {
	if entry == nil {
		return io.Discard
	}
	return NewFilteredLineWriter(func(line string, isImportant bool) {
		if !isImportant {
			entry.Debug(line)
			return
		}
		lineLower := strings.ToLower(line)
		switch {
		case strings.Contains(lineLower, "error") || strings.Contains(lineLower, "fatal"):
			entry.Error(line)
		case strings.Contains(lineLower, "warning") || strings.Contains(lineLower, "warn"):
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}, debug, keywords...)
}
