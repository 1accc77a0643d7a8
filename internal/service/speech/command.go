package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

// CommandOptions 配置本地推理命令（默认 whisper.cpp 的 whisper-cli）。
type CommandOptions struct {
	Path      string
	ModelPath string
	Language  string
	// Args overrides the default argument list. "{model}", "{file}" and
	// "{language}" are substituted.
	Args []string
}

var defaultCommandArgs = []string{"-m", "{model}", "-f", "{file}", "-l", "{language}", "-nt", "-np"}

// Command 把音频写入带正确扩展名的临时文件，调用本地模型并读取 stdout 作为结果。
type Command struct {
	path      string
	modelPath string
	language  string
	args      []string
}

func NewCommand(opts CommandOptions) *Command {
	path := opts.Path
	if path == "" {
		path = "whisper-cli"
	}
	args := opts.Args
	if len(args) == 0 {
		args = defaultCommandArgs
	}
	language := opts.Language
	if language == "" {
		language = "auto"
	}
	return &Command{path: path, modelPath: opts.ModelPath, language: language, args: args}
}

func (c *Command) Name() string { return BackendCommand }

func (c *Command) Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) (string, error) {
	bin, err := exec.LookPath(c.path)
	if err != nil {
		return "", fmt.Errorf("speech command %q not found: %w", c.path, err)
	}

	file, err := os.CreateTemp("", "capture-*."+ExtensionFor(audio.MIME))
	if err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(audio.Data); err != nil {
		file.Close()
		return "", fmt.Errorf("stage audio: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}

	replacer := strings.NewReplacer("{model}", c.modelPath, "{file}", file.Name(), "{language}", c.language)
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = replacer.Replace(arg)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("speech command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return joinLines(stdout.String()), nil
}

// joinLines collapses the command's per-segment lines into one transcript.
func joinLines(out string) string {
	fields := strings.FieldsFunc(out, func(r rune) bool { return r == '\n' || r == '\r' })
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}
