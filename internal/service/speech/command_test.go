package speech

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), "fake-whisper")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestCommandStagesFileWithExtension(t *testing.T) {
	script := writeScript(t, `case "$2" in
  *.webm) echo "webm file" ;;
  *) echo "other file" ;;
esac
echo "model=$1"
cat "$2"
echo
`)

	backend := NewCommand(CommandOptions{Path: script, ModelPath: "/models/base.bin", Args: []string{"{model}", "{file}"}})
	text, err := backend.Transcribe(context.Background(), speechmodel.CapturedAudio{Data: []byte("spoken words"), MIME: speechmodel.MIMEWebM})
	require.NoError(t, err)
	assert.Equal(t, "webm file model=/models/base.bin spoken words", text)
}

func TestCommandRemovesStagedFile(t *testing.T) {
	script := writeScript(t, `echo "$1"`)

	backend := NewCommand(CommandOptions{Path: script, ModelPath: "m", Args: []string{"{file}"}})
	staged, err := backend.Transcribe(context.Background(), wavAudio)
	require.NoError(t, err)
	assert.Equal(t, ".wav", filepath.Ext(staged))
	_, statErr := os.Stat(staged)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommandFailure(t *testing.T) {
	script := writeScript(t, "echo 'model missing' >&2\nexit 3\n")

	backend := NewCommand(CommandOptions{Path: script, ModelPath: "m"})
	_, err := backend.Transcribe(context.Background(), wavAudio)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model missing")
}

func TestCommandMissingBinary(t *testing.T) {
	backend := NewCommand(CommandOptions{Path: "/nonexistent/whisper-cli", ModelPath: "m"})
	_, err := backend.Transcribe(context.Background(), wavAudio)
	assert.Error(t, err)
}
