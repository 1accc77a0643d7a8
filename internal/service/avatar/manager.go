package avatar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
)

// Vendor is the subset of Client the manager drives.
type Vendor interface {
	CreateSession(ctx context.Context, avatarID, voiceID string) (Session, error)
	CreateToken(ctx context.Context, sessionID string) (string, error)
	Speak(ctx context.Context, session Session, text string) error
	Stop(ctx context.Context, session Session) error
}

var _ Vendor = (*Client)(nil)

// Options 控制握手中的固定等待。
type Options struct {
	// Warmup 是签发 token 后、宣告就绪前的固定等待，供下游传输稳定。
	Warmup time.Duration
	// SupersedeDelay 是停止旧会话后、创建新会话前的等待。
	SupersedeDelay time.Duration
	Logger         logging.Logger
}

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

// Manager 持有一个对话唯一的数字人会话，并维护 idle/starting/ready/failed 状态机。
// 同一时刻最多只有一个活跃会话。
type Manager struct {
	vendor    Vendor
	logger    logging.Logger
	warmup    time.Duration
	supersede time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	// op 串行化 Start/Speak/Stop；mu 只保护下面的字段，读状态不会被长调用阻塞。
	op        sync.Mutex
	mu        sync.RWMutex
	state     State
	session   Session
	observers []TransitionFunc
}

// NewManager creates an idle manager.
func NewManager(vendor Vendor, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		vendor:    vendor,
		logger:    logger,
		warmup:    opts.Warmup,
		supersede: opts.SupersedeDelay,
		sleep:     sleepContext,
		state:     StateIdle,
	}
}

// OnTransition registers an observer. Observers run synchronously on the
// goroutine performing the transition and must not call back into the manager.
func (m *Manager) OnTransition(fn TransitionFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns the live session, only when it is ready.
func (m *Manager) Session() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return Session{}, false
	}
	return m.session, true
}

// Start 建立新会话：先停止已有会话，再依次创建会话、签发 token、等待预热。
// 任一握手步骤失败都会经过 failed 回到 idle，且会话被清空。
func (m *Manager) Start(ctx context.Context, avatarID, voiceID string) (Session, error) {
	m.op.Lock()
	defer m.op.Unlock()

	avatarID = strings.TrimSpace(avatarID)
	if avatarID == "" {
		return Session{}, &SessionCreateError{Reason: "avatar id is required"}
	}

	if m.State() == StateReady {
		if res := m.stopLocked(ctx); res.Err != nil {
			m.logger.Warn("stop superseded avatar session failed",
				zap.String("session_id", res.SessionID), zap.Error(res.Err))
		}
		if err := m.sleep(ctx, m.supersede); err != nil {
			return Session{}, err
		}
	}

	m.transition(StateStarting, Session{})

	session, err := m.handshake(ctx, avatarID, strings.TrimSpace(voiceID))
	if err != nil {
		m.transition(StateFailed, Session{})
		m.transition(StateIdle, Session{})
		m.logger.Error("avatar handshake failed", err, zap.String("avatar_id", avatarID))
		return Session{}, err
	}

	m.transition(StateReady, session)
	m.logger.Info("avatar session ready",
		zap.String("session_id", session.SessionID),
		zap.String("avatar_id", avatarID),
		zap.Int("ice_servers", len(session.ICEServers)))
	return session, nil
}

func (m *Manager) handshake(ctx context.Context, avatarID, voiceID string) (Session, error) {
	session, err := m.vendor.CreateSession(ctx, avatarID, voiceID)
	if err != nil {
		if session.SessionID != "" {
			m.releaseHalfOpen(ctx, session)
		}
		return Session{}, err
	}

	token, err := m.vendor.CreateToken(ctx, session.SessionID)
	if err != nil {
		m.releaseHalfOpen(ctx, session)
		return Session{}, err
	}
	session.AccessToken = token

	// TODO: replace the fixed warm-up with a readiness probe once the vendor exposes one.
	if err := m.sleep(ctx, m.warmup); err != nil {
		_ = m.vendor.Stop(context.WithoutCancel(ctx), session)
		return Session{}, fmt.Errorf("avatar warm-up interrupted: %w", err)
	}
	return session, nil
}

// releaseHalfOpen 尽力回收厂商侧已创建但未完成握手的会话。
func (m *Manager) releaseHalfOpen(ctx context.Context, session Session) {
	if err := m.vendor.Stop(context.WithoutCancel(ctx), session); err != nil {
		m.logger.Debug("cleanup of half-open session failed",
			zap.String("session_id", session.SessionID), zap.Error(err))
	}
}

// Speak 让数字人朗读 text。没有就绪会话时返回 ErrNoSession。
func (m *Manager) Speak(ctx context.Context, text string) error {
	m.op.Lock()
	defer m.op.Unlock()

	session, ok := m.Session()
	if !ok {
		return ErrNoSession
	}
	if err := m.vendor.Speak(ctx, session, text); err != nil {
		return fmt.Errorf("speak on session %s: %w", session.SessionID, err)
	}
	return nil
}

// Stop 尽力停止当前会话。无论远端调用是否成功，状态都会回到 idle；重复调用无副作用。
func (m *Manager) Stop(ctx context.Context) StopResult {
	m.op.Lock()
	defer m.op.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) StopResult {
	m.mu.RLock()
	session, state := m.session, m.state
	m.mu.RUnlock()

	if state == StateIdle && session.SessionID == "" {
		return StopResult{}
	}

	result := StopResult{SessionID: session.SessionID}
	if session.SessionID != "" {
		result.Attempted = true
		result.Err = m.vendor.Stop(ctx, session)
		if result.Err != nil {
			m.logger.Warn("stop avatar session failed",
				zap.String("session_id", session.SessionID), zap.Error(result.Err))
		}
	}
	m.transition(StateIdle, Session{})
	return result
}

func (m *Manager) transition(to State, session Session) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.session = session
	observers := append([]TransitionFunc(nil), m.observers...)
	m.mu.Unlock()

	if from == to {
		return
	}
	for _, fn := range observers {
		fn(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
