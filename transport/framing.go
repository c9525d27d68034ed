package transport

import (
	"bytes"
	"fmt"
	"io"
)

// MessageTerminator ends every message on a pipe.
const MessageTerminator byte = 0x00

// MessageReader splits a byte stream into NUL-terminated messages.
type MessageReader struct {
	reader  io.Reader
	buf     []byte
	pending []byte
	maxSize int
	err     error
}

// NewMessageReader creates a MessageReader reading bufferSize bytes at a time.
func NewMessageReader(r io.Reader, bufferSize, maxMessageSize int) *MessageReader {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &MessageReader{
		reader:  r,
		buf:     make([]byte, bufferSize),
		maxSize: maxMessageSize,
	}
}

// ReadMessage returns the next complete message without its terminator.
//
// A partial tail is kept until a later read completes it. At end of stream ReadMessage
// returns io.EOF, or io.ErrUnexpectedEOF if an unterminated tail was left over. A
// zero-byte read counts as end of stream.
func (mr *MessageReader) ReadMessage() ([]byte, error) {
	for {
		if i := bytes.IndexByte(mr.pending, MessageTerminator); i >= 0 {
			msg := make([]byte, i)
			copy(msg, mr.pending[:i])
			mr.pending = mr.pending[i+1:]
			if len(mr.pending) == 0 {
				mr.pending = nil
			}
			return msg, nil
		}

		if mr.err != nil {
			if mr.err == io.EOF && len(mr.pending) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, mr.err
		}

		if len(mr.pending) > mr.maxSize {
			return nil, NewConnectionError(ConnectionErrorTypeMessageTooLarge,
				fmt.Sprintf("%d bytes without terminator exceeds limit %d", len(mr.pending), mr.maxSize), nil)
		}

		n, err := mr.reader.Read(mr.buf)
		if n > 0 {
			mr.pending = append(mr.pending, mr.buf[:n]...)
		}
		switch {
		case err != nil:
			mr.err = err
		case n == 0:
			mr.err = io.EOF
		}
	}
}

// MessageWriter writes NUL-terminated messages.
type MessageWriter struct {
	writer  io.Writer
	maxSize int
}

// NewMessageWriter creates a MessageWriter.
func NewMessageWriter(w io.Writer, maxMessageSize int) *MessageWriter {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &MessageWriter{writer: w, maxSize: maxMessageSize}
}

// WriteMessage writes data followed by the terminator in a single Write.
func (mw *MessageWriter) WriteMessage(data []byte) error {
	if bytes.IndexByte(data, MessageTerminator) >= 0 {
		return NewConnectionError(ConnectionErrorTypeInvalidMessage, "message contains a NUL byte", nil)
	}
	if len(data) > mw.maxSize {
		return NewConnectionError(ConnectionErrorTypeMessageTooLarge,
			fmt.Sprintf("message size %d exceeds limit %d", len(data), mw.maxSize), nil)
	}

	framed := make([]byte, len(data)+1)
	copy(framed, data)
	framed[len(data)] = MessageTerminator
	if _, err := mw.writer.Write(framed); err != nil {
		return err
	}
	return nil
}
