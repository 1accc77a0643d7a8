package audio

import (
	"bytes"

	"github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicOgg  = []byte("OggS")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicFtyp = []byte("ftyp")
)

// Sniff 根据前导魔数推断音频容器类型，未匹配时返回 audio/wav。
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWAVE):
		return speech.MIMEWav
	case bytes.HasPrefix(data, magicID3):
		return speech.MIMEMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync: 11 set bits.
		return speech.MIMEMP3
	case bytes.HasPrefix(data, magicOgg):
		return speech.MIMEOgg
	case bytes.HasPrefix(data, magicEBML):
		return speech.MIMEWebM
	case len(data) >= 8 && bytes.Equal(data[4:8], magicFtyp):
		return speech.MIMEMP4
	default:
		return speech.MIMEWav
	}
}
