package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
	avatarmodel "github.com/zhouzirui/avatharam/backend/internal/model/avatar"
	convmodel "github.com/zhouzirui/avatharam/backend/internal/model/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
)

var (
	ErrAvatarRequired       = errors.New("avatar id is required")
	ErrConversationNotFound = errors.New("conversation not found")
)

// ManagerFactory creates the avatar session manager of a new conversation.
type ManagerFactory func() *avatar.Manager

// Defaults 是创建会话时未指定数字人/音色的回退值。
type Defaults struct {
	AvatarID string
	VoiceID  string
}

// Store 在内存中保存会话，进程退出时负责停止所有存活的数字人会话。
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation

	avatars    avatarmodel.Store
	newManager ManagerFactory
	defaults   Defaults
	debugCap   int
	logger     logging.Logger
}

func NewStore(avatars avatarmodel.Store, newManager ManagerFactory, defaults Defaults, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		avatars:       avatars,
		newManager:    newManager,
		defaults:      defaults,
		debugCap:      convmodel.DefaultDebugCapacity,
		logger:        logger,
	}
}

// Create 创建会话。avatarID 为空时使用默认数字人；音色依次回退到配置值和目录中的默认音色。
func (s *Store) Create(_ context.Context, avatarID, voiceID string) (*Conversation, error) {
	avatarID = strings.TrimSpace(avatarID)
	voiceID = strings.TrimSpace(voiceID)

	if avatarID == "" {
		avatarID = s.defaults.AvatarID
	}
	if avatarID == "" && s.avatars != nil {
		if def, ok := s.avatars.Default(); ok {
			avatarID = def.ID
		}
	}
	if avatarID == "" {
		return nil, ErrAvatarRequired
	}

	if voiceID == "" {
		voiceID = s.defaults.VoiceID
	}
	if voiceID == "" && s.avatars != nil {
		if item, ok := s.avatars.FindByID(avatarID); ok {
			voiceID = item.DefaultVoice
		}
	}

	conv := newConversation(uuid.NewString(), avatarID, voiceID, s.newManager(), convmodel.NewDebugLog(s.debugCap))
	conv.Debug.Addf(convmodel.KindUI, "conversation created (avatar=%s voice=%s)", avatarID, voiceID)

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID), zap.String("avatar_id", avatarID))
	return conv, nil
}

// Get retrieves a conversation by identifier.
func (s *Store) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// List returns conversations, oldest first.
func (s *Store) List(_ context.Context) []*Conversation {
	s.mu.RLock()
	out := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete 停止会话的数字人连接并移除会话。
func (s *Store) Delete(ctx context.Context, id string) (avatar.StopResult, error) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if ok {
		delete(s.conversations, id)
	}
	s.mu.Unlock()

	if !ok {
		return avatar.StopResult{}, ErrConversationNotFound
	}

	conv.turn.Lock()
	defer conv.turn.Unlock()
	return conv.Avatar.Stop(ctx), nil
}

// Shutdown 尽力停止所有存活的数字人会话，返回实际发出停止请求的数量。
func (s *Store) Shutdown(ctx context.Context) int {
	conversations := s.List(ctx)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		stopped int
	)
	for _, conv := range conversations {
		wg.Add(1)
		go func(conv *Conversation) {
			defer wg.Done()
			res := conv.Avatar.Stop(ctx)
			if !res.Attempted {
				return
			}
			mu.Lock()
			stopped++
			mu.Unlock()
			if res.Err != nil {
				s.logger.Warn("stop avatar session on shutdown failed",
					zap.String("conversation_id", conv.ID),
					zap.String("session_id", res.SessionID),
					zap.Error(res.Err))
			}
		}(conv)
	}
	wg.Wait()
	return stopped
}
