package conversation

import (
	"sync"
	"time"

	convmodel "github.com/zhouzirui/avatharam/backend/internal/model/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
)

// Transition is one avatar session state change.
type Transition struct {
	From avatar.State `json:"from"`
	To   avatar.State `json:"to"`
	At   time.Time    `json:"at"`
}

// Playback 是最近一次录音归一化后的可播放音频。
type Playback struct {
	Data []byte
	MIME string
}

// Conversation 聚合一次用户会话的全部状态：数字人会话、可编辑文本与调试日志。
// turn 串行化所有交互；stateMu 只保护文本状态，读快照不会被长调用阻塞。
type Conversation struct {
	ID        string
	AvatarID  string
	VoiceID   string
	CreatedAt time.Time

	Avatar *avatar.Manager
	Debug  *convmodel.DebugLog

	turn sync.Mutex

	stateMu  sync.RWMutex
	state    convmodel.State
	playback *Playback

	subMu       sync.Mutex
	subscribers map[int]chan Transition
	nextSub     int
}

func newConversation(id, avatarID, voiceID string, manager *avatar.Manager, debug *convmodel.DebugLog) *Conversation {
	c := &Conversation{
		ID:          id,
		AvatarID:    avatarID,
		VoiceID:     voiceID,
		CreatedAt:   time.Now().UTC(),
		Avatar:      manager,
		Debug:       debug,
		subscribers: make(map[int]chan Transition),
	}
	manager.OnTransition(c.onTransition)
	return c
}

func (c *Conversation) onTransition(from, to avatar.State) {
	c.Debug.Addf(convmodel.KindSession, "%s -> %s", from, to)

	t := Transition{From: from, To: to, At: time.Now().UTC()}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribe 订阅会话状态变化，返回的函数用于取消订阅。慢消费者会丢失事件。
func (c *Conversation) Subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 8)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

// State returns a copy of the editable text, last reply and turn log.
func (c *Conversation) State() convmodel.State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state.Snapshot()
}

// Playback returns the last normalized recording, if any.
func (c *Conversation) Playback() (Playback, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.playback == nil {
		return Playback{}, false
	}
	return *c.playback, true
}

func (c *Conversation) mutate(fn func(s *convmodel.State)) convmodel.State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	fn(&c.state)
	return c.state.Snapshot()
}

func (c *Conversation) setPlayback(p Playback) {
	c.stateMu.Lock()
	c.playback = &p
	c.stateMu.Unlock()
}

// Snapshot 是对外展示的会话视图。
type Snapshot struct {
	ID           string          `json:"id"`
	AvatarID     string          `json:"avatarId"`
	VoiceID      string          `json:"voiceId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	SessionState avatar.State    `json:"sessionState"`
	SessionID    string          `json:"sessionId,omitempty"`
	State        convmodel.State `json:"state"`
}

// Snapshot builds the external view without waiting for an in-flight turn.
func (c *Conversation) Snapshot() Snapshot {
	snap := Snapshot{
		ID:           c.ID,
		AvatarID:     c.AvatarID,
		VoiceID:      c.VoiceID,
		CreatedAt:    c.CreatedAt,
		SessionState: c.Avatar.State(),
		State:        c.State(),
	}
	if session, ok := c.Avatar.Session(); ok {
		snap.SessionID = session.SessionID
	}
	return snap
}
