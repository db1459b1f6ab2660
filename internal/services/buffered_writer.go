package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/logger"
)

// BufferedWriter 去抖落库写入器
// 流式token逐条落库会把磁盘写成热点，这里按句柄合并突发写：
// 窗口内只保留最新值，窗口结束写一次
type BufferedWriter struct {
	debounce time.Duration
	logger   *zap.Logger
}

// NewBufferedWriter 创建写入器
func NewBufferedWriter(debounce time.Duration) *BufferedWriter {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &BufferedWriter{
		debounce: debounce,
		logger:   logger.GetLogger(),
	}
}

// ApplyFunc 把最新值落库
type ApplyFunc func(value interface{}) error

// Begin 开启一个缓冲写句柄
// 一个句柄对应一个落库目标（一条消息的正文、一个块的内容）
func (w *BufferedWriter) Begin(apply ApplyFunc) *WriteHandle {
	return &WriteHandle{
		writer: w,
		apply:  apply,
	}
}

// WriteHandle 缓冲写句柄
// Set只留最新值；Flush同步写出；End写出后关闭，重复End是空操作
type WriteHandle struct {
	writer *BufferedWriter
	apply  ApplyFunc

	mu      sync.Mutex
	timer   *time.Timer
	latest  interface{}
	pending bool
	ended   bool
}

// Set 提交新值，覆盖窗口内未写出的旧值
func (h *WriteHandle) Set(value interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return
	}
	h.latest = value
	h.pending = true
	// 每个新值重置计时器，窗口内只落最后一个值
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.writer.debounce, h.fire)
}

// fire 去抖窗口到期，异步写出最新值
func (h *WriteHandle) fire() {
	h.mu.Lock()
	h.timer = nil
	if !h.pending || h.ended {
		h.mu.Unlock()
		return
	}
	value := h.latest
	h.pending = false
	h.mu.Unlock()

	if err := h.apply(value); err != nil {
		h.writer.logger.Error("Buffered write failed", zap.Error(err))
	}
}

// Flush 同步写出未落库的最新值
func (h *WriteHandle) Flush() error {
	h.mu.Lock()
	if !h.pending {
		h.mu.Unlock()
		return nil
	}
	value := h.latest
	h.pending = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()

	return h.apply(value)
}

// End 写出未落库的值并关闭句柄
// 幂等，关闭后的Set被丢弃
func (h *WriteHandle) End() error {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return nil
	}
	h.ended = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	value := h.latest
	pending := h.pending
	h.pending = false
	h.mu.Unlock()

	if !pending {
		return nil
	}
	return h.apply(value)
}
