package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrFrameSize     = errors.New("Invalid frame size")
	ErrUnknownSignal = errors.New("Unknown signal")
	ErrPayload       = errors.New("Invalid payload")
)

const (
	// Size of the length and signal fields
	headerSize = 8

	DefaultMaxFrameSize = 64 * 1024 * 1024
)

// One control message:
//
//	[4 bytes: length of signal + payload, big-endian]
//	[4 bytes: signal, big-endian]
//	[length - 4 bytes: payload]
type Frame struct {
	Signal  Signal
	Payload []byte
}

// Create a frame with a JSON payload. A nil document gives an empty payload.
func NewFrame(signal Signal, doc any) (*Frame, error) {
	frame := &Frame{Signal: signal}
	if doc == nil {
		return frame, nil
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	frame.Payload = payload
	return frame, nil
}

// Decode the JSON payload into doc. An empty payload leaves doc untouched.
func (f *Frame) Decode(doc any) error {
	if len(f.Payload) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(f.Payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPayload, f.Signal, err)
	}

	// A payload holds exactly one document
	if _, err := decoder.Token(); err != io.EOF {
		return fmt.Errorf("%w: %s: trailing data after document", ErrPayload, f.Signal)
	}
	return nil
}

// Read one frame. Frames announcing more than maxSize bytes are rejected
// before their payload is read.
func ReadFrame(r io.Reader, maxSize uint32) (*Frame, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length < 4 || length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameSize, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	frame := &Frame{
		Signal:  Signal(binary.BigEndian.Uint32(data[:4])),
		Payload: data[4:],
	}

	if !frame.Signal.IsValid() {
		return frame, fmt.Errorf("%w: %d", ErrUnknownSignal, uint32(frame.Signal))
	}
	return frame, nil
}

func WriteFrame(w io.Writer, frame *Frame) error {
	data := make([]byte, headerSize+len(frame.Payload))
	binary.BigEndian.PutUint32(data[0:4], uint32(4+len(frame.Payload)))
	binary.BigEndian.PutUint32(data[4:8], uint32(frame.Signal))
	copy(data[headerSize:], frame.Payload)

	_, err := w.Write(data)
	return err
}
