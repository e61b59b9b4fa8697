package errs

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_FormatsTypeContextAndCause(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, ErrCorruption, "decode checkpoint").
		WithContext("path", "out/partial_predictions.json").
		WithContext("bytes", 12)

	msg := err.Error()
	assert.Contains(t, msg, "[Corruption] decode checkpoint")
	assert.Contains(t, msg, "context: bytes=12, path=out/partial_predictions.json")
	assert.Contains(t, msg, "cause: unexpected EOF")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestIs_FindsTypeThroughWrapping(t *testing.T) {
	inner := New(ErrInference, "bad wav")
	outer := fmt.Errorf("classify a.wav: %w", inner)

	assert.True(t, Is(outer, ErrInference))
	assert.False(t, Is(outer, ErrModelLoad))
	assert.False(t, Is(io.EOF, ErrInference))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(New(ErrInference, "x")))
	assert.True(t, Recoverable(New(ErrValidation, "x")))
	assert.False(t, Recoverable(New(ErrCorruption, "x")))
	assert.False(t, Recoverable(io.EOF))
}

func TestDefaultHandler_GetAdvice(t *testing.T) {
	h := NewDefaultHandler()
	for _, typ := range []ErrorType{ErrNotFound, ErrInference, ErrCorruption, ErrModelLoad, ErrConfig, ErrFileWrite, ErrValidation, ErrUnknown} {
		assert.NotEmpty(t, h.GetAdvice(New(typ, "x")), typ.String())
	}
	assert.True(t, h.Handle(New(ErrConfig, "x")))
	assert.False(t, h.Handle(io.EOF))
}
