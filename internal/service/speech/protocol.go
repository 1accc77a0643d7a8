package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎流式 ASR 的二进制帧：4 字节头 + 可选序号 + 4 字节负载长度 + 负载。
const protocolVersion = 0b0001

type messageType uint8

const (
	fullClientRequest  messageType = 0b0001
	audioOnlyRequest   messageType = 0b0010
	fullServerResponse messageType = 0b1001
	serverAck          messageType = 0b1011
	serverError        messageType = 0b1111
)

type messageFlags uint8

const (
	noSequence       messageFlags = 0b0000
	positiveSequence messageFlags = 0b0001
	lastNoSequence   messageFlags = 0b0010
	negativeSequence messageFlags = 0b0011
)

const (
	noSerialization   uint8 = 0b0000
	jsonSerialization uint8 = 0b0001

	noCompression   uint8 = 0b0000
	gzipCompression uint8 = 0b0001
)

type frame struct {
	Type          messageType
	Flags         messageFlags
	Serialization uint8
	Compression   uint8
	Sequence      int32
	ErrorCode     uint32
	Payload       []byte
}

func (f *frame) hasSequence() bool {
	return f.Flags == positiveSequence || f.Flags == negativeSequence
}

// isLast 判断是否为最后一包。
func (f *frame) isLast() bool {
	return f.Flags == lastNoSequence || f.Flags == negativeSequence
}

func encodeFrame(f *frame) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12+len(f.Payload)))
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.Type)<<4 | uint8(f.Flags))
	buf.WriteByte(f.Serialization<<4 | f.Compression)
	buf.WriteByte(0)

	var word [4]byte
	if f.hasSequence() {
		binary.BigEndian.PutUint32(word[:], uint32(f.Sequence))
		buf.Write(word[:])
	}
	binary.BigEndian.PutUint32(word[:], uint32(len(f.Payload)))
	buf.Write(word[:])
	buf.Write(f.Payload)
	return buf.Bytes()
}

func decodeFrame(data []byte) (*frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if version := data[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, fmt.Errorf("invalid header size: %d", headerSize)
	}

	f := &frame{
		Type:          messageType(data[1] >> 4),
		Flags:         messageFlags(data[1] & 0x0F),
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0F,
	}
	r := bytes.NewReader(data[headerSize:])

	if f.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &f.Sequence); err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
	}
	if f.Type == serverError {
		if err := binary.Read(r, binary.BigEndian, &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (expected %d bytes): %w", size, err)
		}
	}
	return f, nil
}

// payload returns the frame body with compression removed.
func (f *frame) payload() ([]byte, error) {
	switch f.Compression {
	case noCompression:
		return f.Payload, nil
	case gzipCompression:
		return gunzip(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.Compression)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
