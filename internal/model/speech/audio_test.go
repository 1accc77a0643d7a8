package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFor(t *testing.T) {
	cases := map[string]string{
		"audio/wav":              "wav",
		"audio/mpeg":             "mp3",
		"audio/webm;codecs=opus": "webm",
		"audio/ogg":              "ogg",
		"audio/mp4":              "mp4",
		"":                       "wav",
		"application/octet":      "wav",
	}
	for mime, want := range cases {
		assert.Equal(t, want, FormatFor(mime), mime)
	}
	assert.Equal(t, "webm", CapturedAudio{MIME: MIMEWebM}.Format())
}

func TestTranscriptionOK(t *testing.T) {
	assert.False(t, Transcription{Text: NoSpeechRecognized}.OK())
	assert.True(t, Transcription{Text: "hi", Backend: "whisper"}.OK())
}
