// Package viewer renders the HTML fragment that attaches the browser to a
// live avatar stream.
package viewer

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
)

// 模板中的占位符。会话 ID 和 token 以 JS 字符串内容替换，SDP 为带引号的 JSON 字符串，ICE 为 JSON 数组。
const (
	PlaceholderSessionID   = "__SESSION_ID__"
	PlaceholderAccessToken = "__ACCESS_TOKEN__"
	PlaceholderOfferSDP    = "__OFFER_SDP__"
	PlaceholderICEServers  = "__ICE_SERVERS__"
)

// ErrIncompleteSession is returned when asked to render a session that has not
// finished its handshake.
var ErrIncompleteSession = errors.New("avatar session is not ready")

//go:embed viewer.html
var defaultTemplate string

// Renderer 持有已加载的模板。
type Renderer struct {
	template string
	source   string
}

// Load reads the template at path, or uses the embedded default when path is empty.
func Load(path string) (*Renderer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Renderer{template: defaultTemplate, source: "embedded"}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read viewer template %q: %w", path, err)
	}
	return New(string(raw), path), nil
}

// New wraps an in-memory template.
func New(template, source string) *Renderer {
	return &Renderer{template: template, source: source}
}

// Source describes where the template came from.
func (r *Renderer) Source() string {
	return r.source
}

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Render 用会话信息替换模板中的四个占位符。
func (r *Renderer) Render(session avatar.Session) (string, error) {
	if !session.Complete() {
		return "", ErrIncompleteSession
	}

	sdp, err := sonic.ConfigStd.Marshal(session.Offer.SDP)
	if err != nil {
		return "", fmt.Errorf("encode offer sdp: %w", err)
	}

	servers := make([]iceServer, 0, len(session.ICEServers))
	for _, s := range session.ICEServers {
		servers = append(servers, iceServer{URLs: s.URLs, Username: s.Username, Credential: credentialString(s.Credential)})
	}
	ice, err := sonic.ConfigStd.Marshal(servers)
	if err != nil {
		return "", fmt.Errorf("encode ice servers: %w", err)
	}

	replacer := strings.NewReplacer(
		PlaceholderSessionID, jsStringContent(session.SessionID),
		PlaceholderAccessToken, jsStringContent(session.AccessToken),
		PlaceholderOfferSDP, string(sdp),
		PlaceholderICEServers, string(ice),
	)
	return replacer.Replace(r.template), nil
}

// credentialString keeps password credentials; other credential kinds are not
// meaningful to the browser.
func credentialString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// jsStringContent escapes s for use between quotes in a script.
func jsStringContent(s string) string {
	quoted, err := sonic.ConfigStd.MarshalToString(s)
	if err != nil || len(quoted) < 2 {
		return ""
	}
	return quoted[1 : len(quoted)-1]
}
