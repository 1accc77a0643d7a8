package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncoding(t *testing.T) {
	tests := []struct {
		name string
		in   frame
	}{
		{"full request", frame{Type: fullClientRequest, Flags: noSequence, Serialization: jsonSerialization, Compression: gzipCompression, Payload: []byte("{}")}},
		{"audio with sequence", frame{Type: audioOnlyRequest, Flags: positiveSequence, Sequence: 2, Payload: []byte{1, 2, 3}}},
		{"last audio", frame{Type: audioOnlyRequest, Flags: negativeSequence, Sequence: -7, Payload: []byte{9}}},
		{"empty payload", frame{Type: fullServerResponse, Flags: lastNoSequence}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeFrame(&tt.in)
			assert.Equal(t, byte(0x11), encoded[0], "version 1, header size 1")

			decoded, err := decodeFrame(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.in.Type, decoded.Type)
			assert.Equal(t, tt.in.Flags, decoded.Flags)
			assert.Equal(t, tt.in.Sequence, decoded.Sequence)
			assert.Equal(t, len(tt.in.Payload), len(decoded.Payload))
			if len(tt.in.Payload) > 0 {
				assert.Equal(t, tt.in.Payload, decoded.Payload)
			}
		})
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	data := []byte{0x11, byte(serverError) << 4, 0x10, 0x00,
		0x00, 0x00, 0x00, 0x2A,
		0x00, 0x00, 0x00, 0x03, 'b', 'a', 'd'}

	f, err := decodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, serverError, f.Type)
	assert.Equal(t, uint32(42), f.ErrorCode)
	assert.Equal(t, "bad", string(f.Payload))
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := decodeFrame([]byte{0x11})
	assert.Error(t, err)

	_, err = decodeFrame([]byte{0x21, 0x10, 0x00, 0x00})
	assert.Error(t, err, "wrong version")

	_, err = decodeFrame([]byte{0x11, 0x90, 0x00, 0x00, 0x00, 0x00, 0x00, 0x09, 'x'})
	assert.Error(t, err, "truncated payload")
}

func TestGzipRoundTrip(t *testing.T) {
	data := []byte("This is a test string for compression testing. It should be long enough.")
	compressed, err := gzipBytes(data)
	require.NoError(t, err)

	f := frame{Compression: gzipCompression, Payload: compressed}
	out, err := f.payload()
	require.NoError(t, err)
	assert.Equal(t, data, out)

	f = frame{Compression: 0b1111, Payload: compressed}
	_, err = f.payload()
	assert.Error(t, err)
}
