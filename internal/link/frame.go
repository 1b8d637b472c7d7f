package link

import (
	"encoding/binary"
	"fmt"
)

// Frame layout: kind (1 byte) + transaction ID (2 bytes, big endian) + payload.
type Frame struct {
	Kind          Kind
	TransactionID uint16
	Payload       []byte
}

const headerSize = 3

type Kind uint8

// Host -> hub
const (
	KindQuery        Kind = 0x01
	KindProgramMeta  Kind = 0x02
	KindProgramChunk Kind = 0x03
	KindStart        Kind = 0x04
	KindStop         Kind = 0x05
)

// Hub -> host
const (
	KindReply      Kind = 0x81
	KindQueryError Kind = 0x82
	KindAck        Kind = 0x83
	KindReject     Kind = 0x84
	KindStdout     Kind = 0x85
	KindCompleted  Kind = 0x86
	KindException  Kind = 0x87
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindProgramMeta:
		return "program_meta"
	case KindProgramChunk:
		return "program_chunk"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindReply:
		return "reply"
	case KindQueryError:
		return "query_error"
	case KindAck:
		return "ack"
	case KindReject:
		return "reject"
	case KindStdout:
		return "stdout"
	case KindCompleted:
		return "completed"
	case KindException:
		return "exception"
	default:
		return fmt.Sprintf("kind(0x%02X)", uint8(k))
	}
}

// Query codes carried in the first payload byte of a KindQuery frame.
type QueryCode uint8

const (
	QueryHubType         QueryCode = 0x01
	QueryHubName         QueryCode = 0x02
	QueryFirmwareVersion QueryCode = 0x03
	QueryBatteryVoltage  QueryCode = 0x04
	QueryPortList        QueryCode = 0x05
	QueryPortDevice      QueryCode = 0x06
)

// Query error codes carried in the first payload byte of KindQueryError.
const (
	QueryErrNoDevice    uint8 = 0x01
	QueryErrUnsupported uint8 = 0x02
	QueryErrFailed      uint8 = 0x03
)

// Encode serialises the frame.
func (f *Frame) Encode() []byte {
	frame := make([]byte, headerSize+len(f.Payload))
	frame[0] = byte(f.Kind)
	binary.BigEndian.PutUint16(frame[1:3], f.TransactionID)
	copy(frame[headerSize:], f.Payload)
	return frame
}

// DecodeFrame parses a received frame. The payload aliases data.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		Kind:          Kind(data[0]),
		TransactionID: binary.BigEndian.Uint16(data[1:3]),
	}
	if len(data) > headerSize {
		frame.Payload = data[headerSize:]
	}
	return frame, nil
}

// QueryRequest builds a query frame; arg is optional (e.g. a port letter).
func QueryRequest(transactionID uint16, code QueryCode, arg []byte) *Frame {
	payload := make([]byte, 1+len(arg))
	payload[0] = byte(code)
	copy(payload[1:], arg)
	return &Frame{Kind: KindQuery, TransactionID: transactionID, Payload: payload}
}

// ProgramMetaRequest announces the size of the artifact about to be sent.
func ProgramMetaRequest(transactionID uint16, size uint32) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Frame{Kind: KindProgramMeta, TransactionID: transactionID, Payload: payload}
}

// ProgramChunkRequest carries artifact bytes at the given offset.
func ProgramChunkRequest(transactionID uint16, offset uint32, data []byte) *Frame {
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(payload[0:4], offset)
	copy(payload[4:], data)
	return &Frame{Kind: KindProgramChunk, TransactionID: transactionID, Payload: payload}
}

func StartRequest(transactionID uint16) *Frame {
	return &Frame{Kind: KindStart, TransactionID: transactionID}
}

func StopRequest(transactionID uint16) *Frame {
	return &Frame{Kind: KindStop, TransactionID: transactionID}
}

// ParseProgramMeta returns the announced artifact size.
func (f *Frame) ParseProgramMeta() (uint32, error) {
	if len(f.Payload) < 4 {
		return 0, fmt.Errorf("program meta too short")
	}
	return binary.BigEndian.Uint32(f.Payload[0:4]), nil
}

// ParseProgramChunk returns the offset and the chunk bytes.
func (f *Frame) ParseProgramChunk() (uint32, []byte, error) {
	if len(f.Payload) < 4 {
		return 0, nil, fmt.Errorf("program chunk too short")
	}
	return binary.BigEndian.Uint32(f.Payload[0:4]), f.Payload[4:], nil
}

// ParseQuery returns the query code and its argument.
func (f *Frame) ParseQuery() (QueryCode, []byte, error) {
	if len(f.Payload) < 1 {
		return 0, nil, fmt.Errorf("query without code")
	}
	return QueryCode(f.Payload[0]), f.Payload[1:], nil
}

// ParseExitCode reads the exit code of a completion marker.
func (f *Frame) ParseExitCode() (int, error) {
	if len(f.Payload) < 4 {
		return 0, fmt.Errorf("completion marker too short")
	}
	return int(int32(binary.BigEndian.Uint32(f.Payload[0:4]))), nil
}

// ParseQueryError returns the error code and optional message.
func (f *Frame) ParseQueryError() (uint8, string) {
	if len(f.Payload) == 0 {
		return QueryErrFailed, ""
	}
	return f.Payload[0], string(f.Payload[1:])
}

// Text returns the payload as a string (stdout, exception, reject).
func (f *Frame) Text() string {
	return string(f.Payload)
}

// Uint16 reads a numeric reply (battery voltage, device id).
func (f *Frame) Uint16() (uint16, error) {
	if len(f.Payload) < 2 {
		return 0, fmt.Errorf("reply too short for uint16: %d bytes", len(f.Payload))
	}
	return binary.BigEndian.Uint16(f.Payload[0:2]), nil
}

// Hub-side constructors, used by hub agents and the simulator.

func ReplyFrame(transactionID uint16, payload []byte) *Frame {
	return &Frame{Kind: KindReply, TransactionID: transactionID, Payload: payload}
}

func Uint16Reply(transactionID uint16, v uint16) *Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, v)
	return ReplyFrame(transactionID, payload)
}

func QueryErrorFrame(transactionID uint16, code uint8, msg string) *Frame {
	return &Frame{Kind: KindQueryError, TransactionID: transactionID, Payload: append([]byte{code}, msg...)}
}

func AckFrame(transactionID uint16) *Frame {
	return &Frame{Kind: KindAck, TransactionID: transactionID}
}

func RejectFrame(transactionID uint16, reason string) *Frame {
	return &Frame{Kind: KindReject, TransactionID: transactionID, Payload: []byte(reason)}
}

func StdoutFrame(text string) *Frame {
	return &Frame{Kind: KindStdout, Payload: []byte(text)}
}

func CompletedFrame(exitCode int) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(int32(exitCode)))
	return &Frame{Kind: KindCompleted, Payload: payload}
}

func ExceptionFrame(text string) *Frame {
	return &Frame{Kind: KindException, Payload: []byte(text)}
}
