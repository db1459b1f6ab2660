package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// 事件主题
const (
	TopicMessageChanged  = "message.changed"
	TopicMessagesCleared = "messages.cleared"
)

// Event 事件
type Event struct {
	Topic     string
	Payload   interface{}
	Timestamp time.Time
}

// MessageChangedPayload 消息变更事件负载
type MessageChangedPayload struct {
	ConversationID string
	MessageID      string
}

// MessagesClearedPayload 消息清空事件负载
type MessagesClearedPayload struct {
	ConversationID string
}

// Handler 事件处理函数
type Handler func(Event)

// pendingState 单个主题的节流状态
type pendingState struct {
	timer   *time.Timer
	latest  interface{}
	hasNext bool
}

// Bus 进程内节流发布/订阅总线
// 显式注入给编排器和仓库层使用，UI观察者在构造时订阅
// 发布方不能假设事件被同步投递
type Bus struct {
	mu       sync.Mutex
	subs     map[string]map[int]Handler
	nextID   int
	throttle time.Duration
	pending  map[string]*pendingState
	closed   bool
	logger   *zap.Logger
}

// NewBus 创建事件总线
func NewBus(throttle time.Duration, logger *zap.Logger) *Bus {
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}
	return &Bus{
		subs:     make(map[string]map[int]Handler),
		throttle: throttle,
		pending:  make(map[string]*pendingState),
		logger:   logger,
	}
}

// Subscribe 订阅主题，返回取消订阅函数
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish 发布事件
// 同一主题在节流窗口内的突发只投递首个和最后一个（携带最新负载），
// 避免每个token触发一次全量刷新
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	state, throttled := b.pending[topic]
	if throttled {
		// 窗口内：只记录最新负载，窗口结束时投递
		state.latest = payload
		state.hasNext = true
		b.mu.Unlock()
		return
	}

	state = &pendingState{}
	state.timer = time.AfterFunc(b.throttle, func() {
		b.flushPending(topic)
	})
	b.pending[topic] = state
	b.mu.Unlock()

	// 窗口首个事件立即投递
	b.deliver(Event{Topic: topic, Payload: payload, Timestamp: time.Now()})
}

// flushPending 节流窗口结束，投递窗口内最后一个事件
func (b *Bus) flushPending(topic string) {
	b.mu.Lock()
	state := b.pending[topic]
	delete(b.pending, topic)
	if state == nil || !state.hasNext || b.closed {
		b.mu.Unlock()
		return
	}
	payload := state.latest
	b.mu.Unlock()

	b.deliver(Event{Topic: topic, Payload: payload, Timestamp: time.Now()})
}

// deliver 异步投递给全部订阅者
func (b *Bus) deliver(event Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[event.Topic]))
	for _, h := range b.subs[event.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	go func() {
		for _, h := range handlers {
			h(event)
		}
	}()

	if b.logger != nil {
		b.logger.Debug("Event published",
			zap.String("topic", event.Topic),
			zap.Int("subscribers", len(handlers)))
	}
}

// Flush 立即投递所有被节流的事件（测试和关停用）
func (b *Bus) Flush() {
	b.mu.Lock()
	topics := make([]string, 0, len(b.pending))
	for topic, state := range b.pending {
		state.timer.Stop()
		topics = append(topics, topic)
	}
	b.mu.Unlock()

	for _, topic := range topics {
		b.flushPending(topic)
	}
}

// Close 关闭总线，丢弃未投递的节流事件
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, state := range b.pending {
		state.timer.Stop()
	}
	b.pending = make(map[string]*pendingState)
}
