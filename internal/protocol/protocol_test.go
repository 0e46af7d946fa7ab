package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEncodeDecodeUpdate(t *testing.T) {
	for _, code := range []string{"", "x=1\ny=2", `print("hi")`, strings.Repeat("  // ", 1000)} {
		data, err := Encode(TypeCodeUpdate, code)
		assert.Equal(t, err, nil)

		got, err := DecodeUpdate(data)
		assert.Equal(t, err, nil)
		assert.Equal(t, got, code)
	}
}

func TestDecodeEditRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{name: "wrong type", data: `{"type":"code-update","code":"x"}`, want: ErrUnknownType},
		{name: "no type", data: `{"code":"x"}`, want: ErrUnknownType},
		{name: "missing code", data: `{"type":"code-change"}`, want: ErrMissingCode},
		{name: "null code", data: `{"type":"code-change","code":null}`, want: ErrCodeNotText},
		{name: "number code", data: `{"type":"code-change","code":42}`, want: ErrCodeNotText},
		{name: "object code", data: `{"type":"code-change","code":{"a":1}}`, want: ErrCodeNotText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEdit([]byte(tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeEditRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeEdit([]byte("not json"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeEditAcceptsEmptyBuffer(t *testing.T) {
	got, err := DecodeEdit([]byte(`{"type":"code-change","code":""}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, got, "")
}
