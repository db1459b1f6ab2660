package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// TestPublishDeliversToSubscribers 测试基本投递
func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(10*time.Millisecond, nil)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe(TopicMessageChanged, c.handle)

	bus.Publish(TopicMessageChanged, MessageChangedPayload{ConversationID: "c1", MessageID: "m1"})

	assert.Eventually(t, func() bool {
		events := c.all()
		return len(events) == 1 && events[0].Payload.(MessageChangedPayload).MessageID == "m1"
	}, time.Second, 5*time.Millisecond)
}

// TestThrottleCoalescesBursts 测试节流合并突发
// 窗口内只投首个和携带最新负载的最后一个
func TestThrottleCoalescesBursts(t *testing.T) {
	bus := NewBus(50*time.Millisecond, nil)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe(TopicMessageChanged, c.handle)

	for i := 0; i < 20; i++ {
		bus.Publish(TopicMessageChanged, MessageChangedPayload{ConversationID: "c1", MessageID: "m1"})
	}

	time.Sleep(150 * time.Millisecond)
	events := c.all()
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 2, "20次突发最多投递2次")
}

// TestThrottleDeliversLatestPayload 测试节流后投递的是最新负载
func TestThrottleDeliversLatestPayload(t *testing.T) {
	bus := NewBus(30*time.Millisecond, nil)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe(TopicMessagesCleared, c.handle)

	bus.Publish(TopicMessagesCleared, MessagesClearedPayload{ConversationID: "first"})
	bus.Publish(TopicMessagesCleared, MessagesClearedPayload{ConversationID: "middle"})
	bus.Publish(TopicMessagesCleared, MessagesClearedPayload{ConversationID: "last"})

	assert.Eventually(t, func() bool {
		events := c.all()
		if len(events) != 2 {
			return false
		}
		return events[0].Payload.(MessagesClearedPayload).ConversationID == "first" &&
			events[1].Payload.(MessagesClearedPayload).ConversationID == "last"
	}, time.Second, 5*time.Millisecond)
}

// TestUnsubscribe 测试退订
func TestUnsubscribe(t *testing.T) {
	bus := NewBus(5*time.Millisecond, nil)
	defer bus.Close()

	c := &collector{}
	unsubscribe := bus.Subscribe(TopicMessageChanged, c.handle)
	unsubscribe()

	bus.Publish(TopicMessageChanged, MessageChangedPayload{ConversationID: "c1"})
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, c.all())
}

// TestFlushDeliversPending 测试Flush立即投递被节流的事件
func TestFlushDeliversPending(t *testing.T) {
	bus := NewBus(time.Hour, nil)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe(TopicMessageChanged, c.handle)

	bus.Publish(TopicMessageChanged, MessageChangedPayload{MessageID: "m1"})
	bus.Publish(TopicMessageChanged, MessageChangedPayload{MessageID: "m2"})
	bus.Flush()

	assert.Eventually(t, func() bool {
		events := c.all()
		return len(events) == 2 && events[1].Payload.(MessageChangedPayload).MessageID == "m2"
	}, time.Second, 5*time.Millisecond)
}

// TestCloseDropsPending 测试关闭丢弃未投递事件
func TestCloseDropsPending(t *testing.T) {
	bus := NewBus(time.Hour, nil)

	c := &collector{}
	bus.Subscribe(TopicMessageChanged, c.handle)

	bus.Publish(TopicMessageChanged, MessageChangedPayload{MessageID: "m1"})
	bus.Publish(TopicMessageChanged, MessageChangedPayload{MessageID: "m2"})
	bus.Close()

	time.Sleep(30 * time.Millisecond)
	// 首个已投，窗口内的m2被丢弃
	assert.LessOrEqual(t, len(c.all()), 1)

	// 关闭后发布是空操作
	bus.Publish(TopicMessageChanged, MessageChangedPayload{MessageID: "m3"})
}
