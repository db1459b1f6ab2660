package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder 记录每次落库的值
type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) apply(value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value.(string))
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// TestWriteHandleEndFlushesLatest 测试End落最后一个值
func TestWriteHandleEndFlushesLatest(t *testing.T) {
	rec := &recorder{}
	w := NewBufferedWriter(time.Hour) // 窗口足够长，只有End触发写出
	h := w.Begin(rec.apply)

	h.Set("v1")
	h.Set("v2")
	h.Set("v3")
	require.NoError(t, h.End())

	values := rec.all()
	require.Len(t, values, 1, "窗口内的中间值不应逐条落库")
	assert.Equal(t, "v3", values[0])
}

// TestWriteHandleEndIdempotent 测试End幂等
func TestWriteHandleEndIdempotent(t *testing.T) {
	rec := &recorder{}
	w := NewBufferedWriter(10 * time.Millisecond)
	h := w.Begin(rec.apply)

	h.Set("v1")
	require.NoError(t, h.End())
	require.NoError(t, h.End())

	// End之后的Set被丢弃，残留计时器不得再触发
	h.Set("v2")
	time.Sleep(50 * time.Millisecond)

	values := rec.all()
	require.Len(t, values, 1)
	assert.Equal(t, "v1", values[0])
}

// TestWriteHandleDebounceFires 测试去抖窗口到期自动写出
func TestWriteHandleDebounceFires(t *testing.T) {
	rec := &recorder{}
	w := NewBufferedWriter(10 * time.Millisecond)
	h := w.Begin(rec.apply)

	h.Set("v1")
	assert.Eventually(t, func() bool {
		values := rec.all()
		return len(values) == 1 && values[0] == "v1"
	}, time.Second, 5*time.Millisecond)

	// 已写出后End无新值可落
	require.NoError(t, h.End())
	assert.Len(t, rec.all(), 1)
}

// TestWriteHandleFlushImmediate 测试Flush绕过去抖
func TestWriteHandleFlushImmediate(t *testing.T) {
	rec := &recorder{}
	w := NewBufferedWriter(time.Hour)
	h := w.Begin(rec.apply)

	h.Set("v1")
	require.NoError(t, h.Flush())
	values := rec.all()
	require.Len(t, values, 1)
	assert.Equal(t, "v1", values[0])

	// 没有未落库的值时Flush是空操作
	require.NoError(t, h.Flush())
	assert.Len(t, rec.all(), 1)

	// Flush后继续Set仍然生效
	h.Set("v2")
	require.NoError(t, h.End())
	values = rec.all()
	require.Len(t, values, 2)
	assert.Equal(t, "v2", values[1])
}
