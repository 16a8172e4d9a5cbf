package utkcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCodeMatchesReExportedCode(t *testing.T) {
	err := &Error{Op: "KMAP", Code: ErrMappingAlreadyExists, Msg: "already mapped"}
	assert.True(t, IsCode(err, ErrMappingAlreadyExists))
	assert.False(t, IsCode(err, ErrOutOfBound))
}

func TestIsCodeNilError(t *testing.T) {
	assert.False(t, IsCode(nil, ErrNotInitialized))
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := &Error{Op: "FUTEX_WAIT", Code: ErrNullPointer, Msg: "nil address"}
	assert.Contains(t, err.Error(), "FUTEX_WAIT")
	assert.Contains(t, err.Error(), "nil address")
}
