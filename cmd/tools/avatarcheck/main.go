package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/avatharam/backend/internal/config"
	"github.com/zhouzirui/avatharam/backend/internal/httpclient"
	"github.com/zhouzirui/avatharam/backend/internal/logging"
	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
	"github.com/zhouzirui/avatharam/backend/internal/service/audio"
	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
	"github.com/zhouzirui/avatharam/backend/internal/service/speech"
	"github.com/zhouzirui/avatharam/backend/internal/viewer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}
	if _, err := config.LoadSecrets(envOr("SECRETS_FILE", "secrets.toml")); err != nil {
		log.Fatalf("密钥文件加载失败: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 avatar")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	backend := flag.String("backend", "", "只使用指定的识别后端 (whisper/command/volcengine/cartesia)")
	text := flag.String("text", "Hello! This is a connectivity check.", "avatar 模式下让数字人朗读的文本")
	avatarID := flag.String("avatar", "", "数字人 ID，默认使用配置中的 AVATAR_ID")
	viewerOut := flag.String("viewer", "", "avatar 模式下把渲染好的播放器页面写入该路径")
	hold := flag.Duration("hold", 5*time.Second, "avatar 模式下朗读后保持会话的时间")
	verbose := flag.Bool("v", false, "输出调试日志")
	timeout := flag.Duration("timeout", 3*time.Minute, "整体超时时间")

	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(logging.Options{Level: level})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, cfg, logger, *audioPath, *backend)
	case "avatar":
		runAvatar(ctx, cfg, logger, *avatarID, *text, *viewerOut, *hold)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=avatar 指定测试模式")
	}
}

func runASR(ctx context.Context, cfg *config.Config, logger logging.Logger, audioPath, backend string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	speechCfg := cfg.Speech
	if backend != "" {
		speechCfg.Backends = []string{strings.ToLower(backend)}
	}
	bridge := speech.NewBridge(speech.BuildBackends(speechCfg, logger), speechCfg.Timeout, logger)
	if len(bridge.Backends()) == 0 {
		log.Fatalf("没有可用的识别后端: %v", speechCfg.Backends)
	}

	captured := speechmodel.CapturedAudio{Data: data, MIME: audio.Sniff(data)}
	normalized := audio.NewNormalizer(audio.FFmpeg{Path: cfg.Audio.FFmpegPath}, logger).NormalizeForPlayback(ctx, data, captured.MIME)
	if normalized.Converted {
		captured = speechmodel.CapturedAudio{Data: normalized.Data, MIME: normalized.MIME}
	}

	log.Printf("开始进行 ASR 测试: file=%s mime=%s backends=%v", audioPath, captured.MIME, bridge.Backends())
	start := time.Now()
	res := bridge.Transcribe(ctx, captured)
	for _, failure := range res.Failures {
		log.Printf("[WARN] 后端 %s 失败: %s", failure.Backend, failure.Reason)
	}
	if !res.OK() {
		log.Fatalf("ASR 未识别到语音 (耗时 %s)", time.Since(start).Round(time.Millisecond))
	}
	log.Printf("ASR 识别成功: backend=%s text=%q 耗时=%s", res.Backend, res.Text, time.Since(start).Round(time.Millisecond))
}

func runAvatar(ctx context.Context, cfg *config.Config, logger logging.Logger, avatarID, text, viewerOut string, hold time.Duration) {
	if avatarID == "" {
		avatarID = cfg.Avatar.AvatarID
	}

	client := avatar.NewClient(httpclient.New(cfg.Avatar.Timeout), cfg.Avatar.BaseURL, cfg.Avatar.APIKey)
	manager := avatar.NewManager(client, avatar.Options{
		Warmup:         cfg.Avatar.Warmup,
		SupersedeDelay: cfg.Avatar.SupersedeDelay,
		Logger:         logger,
	})
	manager.OnTransition(func(from, to avatar.State) {
		log.Printf("会话状态: %s -> %s", from, to)
	})

	log.Printf("开始数字人连通性测试: avatar=%s", avatarID)
	session, err := manager.Start(ctx, avatarID, cfg.Avatar.VoiceID)
	if err != nil {
		log.Fatalf("会话启动失败: %v", err)
	}
	// 无论后续步骤是否成功都释放厂商侧会话。
	defer func() {
		res := manager.Stop(context.WithoutCancel(ctx))
		if res.Err != nil {
			log.Printf("[WARN] 停止会话失败: %v", res.Err)
			return
		}
		log.Printf("会话已停止: session=%s", res.SessionID)
	}()
	log.Printf("会话就绪: session=%s ice_servers=%d", session.SessionID, len(session.ICEServers))

	if viewerOut != "" {
		renderer, err := viewer.Load(cfg.Viewer.TemplatePath)
		if err != nil {
			log.Printf("[WARN] 加载播放器模板失败: %v", err)
		} else if html, err := renderer.Render(session); err != nil {
			log.Printf("[WARN] 渲染播放器失败: %v", err)
		} else if err := os.WriteFile(viewerOut, []byte(html), 0o644); err != nil {
			log.Printf("[WARN] 写入播放器页面失败: %v", err)
		} else {
			log.Printf("播放器页面已写入 %s", viewerOut)
		}
	}

	if err := manager.Speak(ctx, text); err != nil {
		log.Printf("[ERROR] 朗读失败: %v", err)
		return
	}
	log.Printf("朗读请求已发送: %q", text)

	select {
	case <-ctx.Done():
	case <-time.After(hold):
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
