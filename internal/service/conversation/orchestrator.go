// Package conversation coordinates one user conversation: avatar session
// control, dictation and chat turns.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
	convmodel "github.com/zhouzirui/avatharam/backend/internal/model/conversation"
	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
	"github.com/zhouzirui/avatharam/backend/internal/service/ai"
	"github.com/zhouzirui/avatharam/backend/internal/service/audio"
	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
)

// 面向用户的提示语，详细错误只写入调试日志。
const (
	NoticeEmptyInput   = "Nothing to send."
	NoticeChatDisabled = "Chat is not configured on this server."
	NoticeChatFailed   = "The assistant could not answer right now. Check the debug log for details."
	NoticeEmptyReply   = "The assistant returned an empty reply."
	NoticeNoSession    = "Start the avatar session to hear the reply."
	NoticeSpeakFailed  = "The avatar could not speak. Check the debug log for details."
	NoticeNoSpeech     = "No speech was recognized."
	NoticeNotConverted = "The recording could not be converted; playback may not work in every browser."
)

// Transcriber is satisfied by *speech.Bridge.
type Transcriber interface {
	Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) speechmodel.Transcription
}

// PlaybackNormalizer is satisfied by *audio.Normalizer.
type PlaybackNormalizer interface {
	NormalizeForPlayback(ctx context.Context, data []byte, mime string) audio.Normalized
}

// Options 配置编排器依赖。Chat 为 nil 时聊天功能关闭。
type Options struct {
	Chat        ai.Replier
	Speech      Transcriber
	Normalizer  PlaybackNormalizer
	ChatTimeout time.Duration
	Logger      logging.Logger
}

// Orchestrator 执行一次次用户交互。同一会话的交互通过会话锁串行执行。
type Orchestrator struct {
	chat        ai.Replier
	speech      Transcriber
	normalizer  PlaybackNormalizer
	chatTimeout time.Duration
	logger      logging.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		chat:        opts.Chat,
		speech:      opts.Speech,
		normalizer:  opts.Normalizer,
		chatTimeout: opts.ChatTimeout,
		logger:      logger,
	}
}

// ChatEnabled reports whether Submit can reach a chat model.
func (o *Orchestrator) ChatEnabled() bool {
	return o.chat != nil
}

// TurnResult 描述一次提交的结果。失败不会以 error 返回，Notice 给出用户可读的说明。
type TurnResult struct {
	Skipped  bool            `json:"skipped"`
	Reply    string          `json:"reply,omitempty"`
	Spoken   bool            `json:"spoken"`
	Notice   string          `json:"notice,omitempty"`
	SpeakErr error           `json:"-"`
	State    convmodel.State `json:"state"`
}

// Submit 把 userText 作为唯一一轮对话发送给模型，回复追加到可编辑文本，会话就绪时让数字人朗读。
func (o *Orchestrator) Submit(ctx context.Context, conv *Conversation, userText string) TurnResult {
	conv.turn.Lock()
	defer conv.turn.Unlock()

	text := strings.TrimSpace(userText)
	if text == "" {
		conv.Debug.Add(convmodel.KindUI, "submit ignored: empty input")
		return TurnResult{Skipped: true, Notice: NoticeEmptyInput, State: conv.State()}
	}

	conv.Debug.Add(convmodel.KindUser, text)
	conv.mutate(func(s *convmodel.State) { s.Record("User: " + text) })

	if o.chat == nil {
		conv.Debug.Add(convmodel.KindError, ai.ErrChatDisabled.Error())
		return TurnResult{Notice: NoticeChatDisabled, State: conv.State()}
	}

	chatCtx := ctx
	if o.chatTimeout > 0 {
		var cancel context.CancelFunc
		chatCtx, cancel = context.WithTimeout(ctx, o.chatTimeout)
		defer cancel()
	}

	conv.Debug.Add(convmodel.KindCmd, "chat completion request")
	reply, err := o.chat.Reply(chatCtx, text)
	if err != nil {
		conv.Debug.Addf(convmodel.KindError, "chat completion failed: %v", err)
		o.logger.Error("chat completion failed", err, zap.String("conversation_id", conv.ID))
		return TurnResult{Notice: NoticeChatFailed, State: conv.State()}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		conv.Debug.Add(convmodel.KindResp, "(empty reply)")
		return TurnResult{Notice: NoticeEmptyReply, State: conv.State()}
	}

	conv.Debug.Add(convmodel.KindResp, reply)
	state := conv.mutate(func(s *convmodel.State) {
		s.AppendReply(reply)
		s.Record("Assistant: " + reply)
	})

	result := TurnResult{Reply: reply, State: state}
	if conv.Avatar.State() != avatar.StateReady {
		result.Notice = NoticeNoSession
		return result
	}

	if err := o.speakLocked(ctx, conv, reply); err != nil {
		result.SpeakErr = err
		result.Notice = NoticeSpeakFailed
		return result
	}
	result.Spoken = true
	return result
}

// SpeakResult describes a direct speak request.
type SpeakResult struct {
	Spoken bool   `json:"spoken"`
	Notice string `json:"notice,omitempty"`
	Err    error  `json:"-"`
}

// Speak 把文本直接交给数字人朗读，不经过模型。
func (o *Orchestrator) Speak(ctx context.Context, conv *Conversation, text string) SpeakResult {
	conv.turn.Lock()
	defer conv.turn.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		conv.Debug.Add(convmodel.KindUI, "speak ignored: empty text")
		return SpeakResult{Notice: NoticeEmptyInput}
	}

	if err := o.speakLocked(ctx, conv, text); err != nil {
		if errors.Is(err, avatar.ErrNoSession) {
			return SpeakResult{Notice: NoticeNoSession, Err: err}
		}
		return SpeakResult{Notice: NoticeSpeakFailed, Err: err}
	}
	return SpeakResult{Spoken: true}
}

func (o *Orchestrator) speakLocked(ctx context.Context, conv *Conversation, text string) error {
	conv.Debug.Addf(convmodel.KindCmd, "speak %q", text)
	if err := conv.Avatar.Speak(ctx, text); err != nil {
		conv.Debug.Addf(convmodel.KindError, "speak failed: %v", err)
		o.logger.Warn("avatar speak failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return err
	}
	return nil
}

// Edit 手动修改可编辑文本，旧值写入调试日志。
func (o *Orchestrator) Edit(conv *Conversation, text string) convmodel.State {
	conv.turn.Lock()
	defer conv.turn.Unlock()
	return o.overwrite(conv, text, "manual edit")
}

func (o *Orchestrator) overwrite(conv *Conversation, text, source string) convmodel.State {
	var previous string
	state := conv.mutate(func(s *convmodel.State) { previous = s.Overwrite(text) })
	conv.Debug.Addf(convmodel.KindUI, "editable text overwritten by %s (was %q)", source, previous)
	return state
}

// DictationResult 是一次录音停止事件的处理结果。
type DictationResult struct {
	Transcription speechmodel.Transcription `json:"transcription"`
	SniffedMIME   string                    `json:"sniffedMime"`
	PlaybackMIME  string                    `json:"playbackMime"`
	Converted     bool                      `json:"converted"`
	Notice        string                    `json:"notice,omitempty"`
	State         convmodel.State           `json:"state"`
}

// Dictate 处理一段录音：嗅探类型、归一化用于回放、识别，并用识别结果覆盖可编辑文本。
func (o *Orchestrator) Dictate(ctx context.Context, conv *Conversation, data []byte) DictationResult {
	conv.turn.Lock()
	defer conv.turn.Unlock()

	mime := audio.Sniff(data)
	conv.Debug.Addf(convmodel.KindAudio, "received %d bytes, sniffed %s", len(data), mime)

	normalized := audio.Normalized{Data: data, MIME: mime}
	if o.normalizer != nil {
		normalized = o.normalizer.NormalizeForPlayback(ctx, data, mime)
	}
	result := DictationResult{SniffedMIME: mime, PlaybackMIME: normalized.MIME, Converted: normalized.Converted}
	if normalized.Err != nil {
		conv.Debug.Addf(convmodel.KindError, "audio conversion failed: %v", normalized.Err)
		result.Notice = NoticeNotConverted
	} else if normalized.Converted {
		conv.Debug.Addf(convmodel.KindAudio, "converted %s to %s (%d bytes)", mime, normalized.MIME, len(normalized.Data))
	}
	conv.setPlayback(Playback{Data: normalized.Data, MIME: normalized.MIME})

	captured := speechmodel.CapturedAudio{Data: data, MIME: mime}
	if normalized.Converted {
		// 转码后的 16k 单声道 WAV 对识别后端兼容性最好。
		captured = speechmodel.CapturedAudio{Data: normalized.Data, MIME: normalized.MIME}
	}

	var transcription speechmodel.Transcription
	if o.speech != nil {
		transcription = o.speech.Transcribe(ctx, captured)
	} else {
		transcription = speechmodel.Transcription{Text: speechmodel.NoSpeechRecognized, CreatedAt: time.Now().UTC()}
	}
	for _, failure := range transcription.Failures {
		conv.Debug.Add(convmodel.KindError, fmt.Sprintf("transcription via %s failed: %s", backendLabel(failure.Backend), failure.Reason))
	}
	if transcription.OK() {
		conv.Debug.Addf(convmodel.KindAudio, "transcribed by %s: %s", transcription.Backend, transcription.Text)
	} else if result.Notice == "" {
		result.Notice = NoticeNoSpeech
	}

	result.Transcription = transcription
	result.State = o.overwrite(conv, transcription.Text, "transcription")
	return result
}

func backendLabel(name string) string {
	if name == "" {
		return "bridge"
	}
	return name
}

// StartSession 启动（或替换）会话的数字人连接。
func (o *Orchestrator) StartSession(ctx context.Context, conv *Conversation) (avatar.Session, error) {
	conv.turn.Lock()
	defer conv.turn.Unlock()

	conv.Debug.Addf(convmodel.KindCmd, "start session (avatar=%s voice=%s)", conv.AvatarID, conv.VoiceID)
	session, err := conv.Avatar.Start(ctx, conv.AvatarID, conv.VoiceID)
	if err != nil {
		conv.Debug.Addf(convmodel.KindError, "start session failed: %v", err)
		return avatar.Session{}, err
	}
	conv.Debug.Addf(convmodel.KindSession, "ready session_id=%s ice_servers=%d", session.SessionID, len(session.ICEServers))
	return session, nil
}

// StopSession 尽力停止数字人连接，失败只记录日志。
func (o *Orchestrator) StopSession(ctx context.Context, conv *Conversation) avatar.StopResult {
	conv.turn.Lock()
	defer conv.turn.Unlock()

	conv.Debug.Add(convmodel.KindCmd, "stop session")
	res := conv.Avatar.Stop(ctx)
	switch {
	case !res.Attempted:
		conv.Debug.Add(convmodel.KindSession, "no live session to stop")
	case res.Err != nil:
		conv.Debug.Addf(convmodel.KindError, "stop session %s failed: %v", res.SessionID, res.Err)
	default:
		conv.Debug.Addf(convmodel.KindSession, "stopped session_id=%s", res.SessionID)
	}
	return res
}
