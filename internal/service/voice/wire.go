package voice

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎语音服务的WebSocket二进制帧格式。
// 4字节定长头 + 可选sequence/事件元数据 + payload长度 + payload。

const wireVersion = 0b0001

// FrameType 帧类型
type FrameType uint8

const (
	// FullClientFrame 携带JSON请求参数的完整客户端帧
	FullClientFrame FrameType = 0b0001
	// AudioOnlyClientFrame 只携带音频数据的客户端帧
	AudioOnlyClientFrame FrameType = 0b0010
	// FullServerFrame 服务端完整响应帧
	FullServerFrame FrameType = 0b1001
	// AudioOnlyServerFrame 服务端纯音频帧
	AudioOnlyServerFrame FrameType = 0b1011
	// ErrorFrame 服务端错误帧
	ErrorFrame FrameType = 0b1111
)

// FrameFlags 帧标志位
type FrameFlags uint8

const (
	// FlagNone header后不带sequence number
	FlagNone FrameFlags = 0b0000
	// FlagPositiveSeq header后4字节为正sequence number
	FlagPositiveSeq FrameFlags = 0b0001
	// FlagLastNoSeq 最后一包，不带sequence number
	FlagLastNoSeq FrameFlags = 0b0010
	// FlagNegativeSeq header后4字节为负sequence number（最后一包）
	FlagNegativeSeq FrameFlags = 0b0011
	// FlagWithEvent 帧携带事件元数据
	FlagWithEvent FrameFlags = 0b0100
)

// WireEvent 服务端事件类型
type WireEvent int32

const (
	EventNone               WireEvent = 0
	EventStartConnection    WireEvent = 1
	EventFinishConnection   WireEvent = 2
	EventConnectionStarted  WireEvent = 50
	EventConnectionFailed   WireEvent = 51
	EventConnectionFinished WireEvent = 52
	EventSessionStarted     WireEvent = 150
	EventSessionFinished    WireEvent = 152
	EventSessionFailed      WireEvent = 153
)

// Serialization payload序列化方式
type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

// Compression payload压缩方式
type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// FrameHeader 定长4字节帧头
type FrameHeader struct {
	Version       uint8
	HeaderSize    uint8
	Type          FrameType
	Flags         FrameFlags
	Serialization Serialization
	Compression   Compression
	Reserved      uint8
}

// Frame 一条完整的协议帧
type Frame struct {
	Header      FrameHeader
	Sequence    int32 // 取决于Flags是否存在
	Event       WireEvent
	SessionID   string
	ConnectID   string
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

func newFrameHeader(frameType FrameType, flags FrameFlags, serialization Serialization, compression Compression) FrameHeader {
	return FrameHeader{
		Version:       wireVersion,
		HeaderSize:    0b0001, // 4字节头
		Type:          frameType,
		Flags:         flags,
		Serialization: serialization,
		Compression:   compression,
	}
}

func (h FrameHeader) encode() []byte {
	return []byte{
		(h.Version << 4) | h.HeaderSize,
		(uint8(h.Type) << 4) | uint8(h.Flags),
		(uint8(h.Serialization) << 4) | uint8(h.Compression),
		h.Reserved,
	}
}

func decodeFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < 4 {
		return FrameHeader{}, fmt.Errorf("frame header too short: got %d, need 4", len(data))
	}

	header := FrameHeader{
		Version:       (data[0] >> 4) & 0x0F,
		HeaderSize:    data[0] & 0x0F,
		Type:          FrameType((data[1] >> 4) & 0x0F),
		Flags:         FrameFlags(data[1] & 0x0F),
		Serialization: Serialization((data[2] >> 4) & 0x0F),
		Compression:   Compression(data[2] & 0x0F),
		Reserved:      data[3],
	}

	if header.Version != wireVersion {
		return FrameHeader{}, fmt.Errorf("unsupported wire version: %d", header.Version)
	}

	return header, nil
}

// EncodeFrame 序列化一条协议帧。
func EncodeFrame(frame *Frame) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(frame.Header.encode())

	switch frame.Header.Flags & 0b0011 {
	case FlagPositiveSeq, FlagNegativeSeq:
		writeUint32(buf, uint32(frame.Sequence))
	}

	if frame.Header.Flags&FlagWithEvent == FlagWithEvent {
		writeUint32(buf, uint32(frame.Event))
		if !eventSkipsSessionID(frame.Event) {
			writeSizedString(buf, frame.SessionID)
		}
		if eventHasConnectID(frame.Event) {
			writeSizedString(buf, frame.ConnectID)
		}
	}

	if frame.Header.Type == ErrorFrame {
		writeUint32(buf, frame.ErrorCode)
	}

	writeUint32(buf, frame.PayloadSize)
	if len(frame.Payload) > 0 {
		buf.Write(frame.Payload)
	}

	return buf.Bytes()
}

// DecodeFrame 从reader解析一条协议帧。
func DecodeFrame(reader io.Reader) (*Frame, error) {
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(reader, headerBytes); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	header, err := decodeFrameHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	frame := &Frame{Header: header}

	// 扩展头按4字节对齐补齐，内容忽略。
	extra := int(header.HeaderSize)*4 - 4
	if extra > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	switch header.Flags & 0b0011 {
	case FlagPositiveSeq, FlagNegativeSeq:
		seq, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		frame.Sequence = int32(seq)
	}

	if header.Flags&FlagWithEvent == FlagWithEvent {
		event, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		frame.Event = WireEvent(int32(event))

		if !eventSkipsSessionID(frame.Event) {
			frame.SessionID, err = readSizedString(reader)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if eventHasConnectID(frame.Event) {
			frame.ConnectID, err = readSizedString(reader)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}

	if header.Type == ErrorFrame {
		code, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		frame.ErrorCode = code
	}

	size, err := readUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	frame.PayloadSize = size

	if frame.PayloadSize > 0 {
		frame.Payload = make([]byte, frame.PayloadSize)
		if _, err := io.ReadFull(reader, frame.Payload); err != nil {
			return nil, fmt.Errorf("read payload (expected %d bytes): %w", frame.PayloadSize, err)
		}
	}

	return frame, nil
}

// NewFullClientFrame 构造携带JSON请求参数的客户端帧。
func NewFullClientFrame(payload []byte, compression Compression) *Frame {
	return &Frame{
		Header:      newFrameHeader(FullClientFrame, FlagNone, JSONSerialization, compression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// NewAudioClientFrame 构造音频数据帧；isLast标记最后一包。
func NewAudioClientFrame(audio []byte, sequence int32, isLast bool, compression Compression) *Frame {
	var flags FrameFlags
	switch {
	case isLast && sequence != 0:
		flags = FlagNegativeSeq
		sequence = -sequence // 负sequence表示最后一包
	case isLast:
		flags = FlagLastNoSeq
	case sequence > 0:
		flags = FlagPositiveSeq
	default:
		flags = FlagNone
	}

	return &Frame{
		Header:      newFrameHeader(AudioOnlyClientFrame, flags, RawSerialization, compression),
		Sequence:    sequence,
		PayloadSize: uint32(len(audio)),
		Payload:     audio,
	}
}

// IsLast 判断是否为序列的最后一帧。
func (f *Frame) IsLast() bool {
	switch f.Header.Flags & 0b0011 {
	case FlagLastNoSeq, FlagNegativeSeq:
		return true
	default:
		return false
	}
}

func eventSkipsSessionID(event WireEvent) bool {
	switch event {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func eventHasConnectID(event WireEvent) bool {
	switch event {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func writeUint32(buf *bytes.Buffer, value uint32) {
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, value)
	buf.Write(raw)
}

func writeSizedString(buf *bytes.Buffer, value string) {
	writeUint32(buf, uint32(len(value)))
	if value != "" {
		buf.WriteString(value)
	}
}

func readUint32(reader io.Reader) (uint32, error) {
	raw := make([]byte, 4)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

func readSizedString(reader io.Reader) (string, error) {
	size, err := readUint32(reader)
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// CompressPayload 按指定方式压缩payload。
func CompressPayload(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			writer.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}

// DecompressPayload 按指定方式解压payload。
func DecompressPayload(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer reader.Close()
		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}
