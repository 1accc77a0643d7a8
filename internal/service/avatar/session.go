package avatar

import "github.com/pion/webrtc/v4"

// State 是会话管理器的生命周期状态。
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// FallbackICEServers 在厂商未返回 ICE 配置时使用。
var FallbackICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Session 是一次完成握手的厂商流式会话。只有四个字段全部就绪时才会对外暴露。
type Session struct {
	SessionID   string
	AccessToken string
	Offer       webrtc.SessionDescription
	ICEServers  []webrtc.ICEServer
}

// Complete reports whether every handshake field is populated.
func (s Session) Complete() bool {
	return s.SessionID != "" && s.AccessToken != "" && s.Offer.SDP != "" && len(s.ICEServers) > 0
}

// StopResult 记录一次 best-effort 的停止结果。
type StopResult struct {
	// Attempted is false when there was no live session to stop.
	Attempted bool
	SessionID string
	Err       error
}

// iceServersFrom converts the vendor's loosely typed ICE list. Entries without
// any usable URL are dropped.
func iceServersFrom(list []any) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		var urls []string
		switch v := entry["urls"].(type) {
		case string:
			if v != "" {
				urls = append(urls, v)
			}
		case []any:
			for _, u := range v {
				if s, ok := u.(string); ok && s != "" {
					urls = append(urls, s)
				}
			}
		}
		if len(urls) == 0 {
			if s, ok := entry["url"].(string); ok && s != "" {
				urls = append(urls, s)
			}
		}
		if len(urls) == 0 {
			continue
		}

		server := webrtc.ICEServer{URLs: urls}
		if username, ok := entry["username"].(string); ok {
			server.Username = username
		}
		if credential, ok := entry["credential"].(string); ok {
			server.Credential = credential
		}
		servers = append(servers, server)
	}
	return servers
}
