// Package protocol defines the frames exchanged on the live channel.
//
// Every frame is a JSON text message carrying the full buffer:
//
//	{"type":"code-change","code":"..."}  client -> coordinator
//	{"type":"code-update","code":"..."}  coordinator -> client (bootstrap and broadcast)
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeCodeChange = "code-change"
	TypeCodeUpdate = "code-update"
)

var (
	ErrUnknownType = errors.New("unknown frame type")
	ErrMissingCode = errors.New("frame has no code")
	ErrCodeNotText = errors.New("code is not a string")
)

// Frame is the message sent over the network in both directions.
type Frame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// rawFrame defers decoding of code so that a missing or non-string field can be told
// apart from an empty buffer.
type rawFrame struct {
	Type string          `json:"type"`
	Code json.RawMessage `json:"code"`
}

// Encode renders a frame of the given type.
func Encode(frameType string, code string) ([]byte, error) {
	data, err := json.Marshal(Frame{Type: frameType, Code: code})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", frameType, err)
	}
	return data, nil
}

// Decode parses a frame of the expected type and returns its buffer text.
func Decode(data []byte, want string) (string, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if raw.Type != want {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
	code := bytes.TrimSpace(raw.Code)
	if len(code) == 0 {
		return "", ErrMissingCode
	}
	if code[0] != '"' {
		return "", ErrCodeNotText
	}
	var text string
	if err := json.Unmarshal(code, &text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeNotText, err)
	}
	return text, nil
}

// DecodeEdit parses a client edit submission.
func DecodeEdit(data []byte) (string, error) {
	return Decode(data, TypeCodeChange)
}

// DecodeUpdate parses a bootstrap or update push.
func DecodeUpdate(data []byte) (string, error) {
	return Decode(data, TypeCodeUpdate)
}
