package avatar

import (
	"context"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/zhouzirui/avatharam/backend/internal/httpclient"
)

const (
	pathSessionNew   = "/v1/streaming.new"
	pathCreateToken  = "/v1/streaming.create_token"
	pathTask         = "/v1/streaming.task"
	pathSessionStop  = "/v1/streaming.stop"
	defaultVendorURL = "https://api.heygen.com"
)

// 厂商响应字段存在新旧两套命名，按顺序取第一个非空值。
var (
	offerPaths = []string{"data.offer.sdp", "data.sdp.sdp"}
	icePaths   = []string{"data.ice_servers2", "data.ice_servers"}
	tokenPaths = []string{"data.token", "data.access_token"}
)

// Client 封装流式数字人厂商的四个 REST 调用。
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// NewClient builds a vendor client. An empty baseURL uses the public endpoint.
func NewClient(httpClient *httpclient.Client, baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultVendorURL
	}
	return &Client{http: httpClient, baseURL: baseURL, apiKey: apiKey}
}

// CreateSession 调用 streaming.new，返回尚未带 token 的会话。
func (c *Client) CreateSession(ctx context.Context, avatarID, voiceID string) (Session, error) {
	payload := map[string]any{"avatar_id": avatarID}
	if voiceID != "" {
		payload["voice_id"] = voiceID
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL+pathSessionNew, httpclient.APIKey(c.apiKey), payload)
	if err != nil {
		return Session{}, &SessionCreateError{Reason: "request failed", Err: err}
	}

	sessionID, _ := resp.Body.FirstString("data.session_id")
	if sessionID == "" {
		return Session{}, &SessionCreateError{Reason: "response has no data.session_id"}
	}
	sdp, _ := resp.Body.FirstString(offerPaths...)
	if sdp == "" {
		// 返回会话 ID，调用方据此回收厂商侧已创建的会话。
		return Session{SessionID: sessionID}, &SessionCreateError{Reason: "response has no SDP offer"}
	}

	return Session{
		SessionID:  sessionID,
		Offer:      webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp},
		ICEServers: iceServersIn(resp.Body),
	}, nil
}

// iceServersIn 依次尝试各候选字段，取第一个能解析出可用服务器的列表。
func iceServersIn(body httpclient.Body) []webrtc.ICEServer {
	for _, path := range icePaths {
		list, _ := body.FirstList(path)
		if ice := iceServersFrom(list); len(ice) > 0 {
			return ice
		}
	}
	return append([]webrtc.ICEServer(nil), FallbackICEServers...)
}

// CreateToken 为会话签发访问 token。
func (c *Client) CreateToken(ctx context.Context, sessionID string) (string, error) {
	resp, err := c.http.PostJSON(ctx, c.baseURL+pathCreateToken, httpclient.APIKey(c.apiKey),
		map[string]any{"session_id": sessionID})
	if err != nil {
		return "", &TokenCreateError{SessionID: sessionID, Reason: "request failed", Err: err}
	}

	token, _ := resp.Body.FirstString(tokenPaths...)
	if token == "" {
		return "", &TokenCreateError{SessionID: sessionID, Reason: "response has no token"}
	}
	return token, nil
}

// Speak posts a synchronous "repeat" task so the avatar says text verbatim.
func (c *Client) Speak(ctx context.Context, session Session, text string) error {
	_, err := c.http.PostJSON(ctx, c.baseURL+pathTask, httpclient.Bearer(session.AccessToken), map[string]any{
		"session_id": session.SessionID,
		"task_type":  "repeat",
		"task_mode":  "sync",
		"text":       text,
	})
	return err
}

// Stop tears the remote session down. Sessions that never received a token
// are stopped with the API key.
func (c *Client) Stop(ctx context.Context, session Session) error {
	var auth httpclient.Auth = httpclient.Bearer(session.AccessToken)
	if session.AccessToken == "" {
		auth = httpclient.APIKey(c.apiKey)
	}
	_, err := c.http.PostJSON(ctx, c.baseURL+pathSessionStop, auth,
		map[string]any{"session_id": session.SessionID})
	return err
}
