package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("message includes cause", func(t *testing.T) {
		err := StoreIO("reading entry", fs.ErrPermission)
		assert.Equal(t, "reading entry: permission denied", err.Error())
		assert.True(t, Is(err, fs.ErrPermission))
	})

	t.Run("IsType through wrap chain", func(t *testing.T) {
		inner := PackFormat("bad manifest", nil)
		outer := fmt.Errorf("unpacking: %w", StoreIO("restore", inner))

		assert.True(t, IsType(outer, ErrorTypeStoreIO))
		assert.True(t, IsType(outer, ErrorTypePackFormat))
		assert.False(t, IsType(outer, ErrorTypeExecution))
		assert.False(t, IsType(stderrors.New("plain"), ErrorTypeStoreIO))
	})

	t.Run("recoverable taxonomy", func(t *testing.T) {
		assert.True(t, KeyUnavailable("k", nil).Recoverable())
		assert.True(t, StoreIO("s", nil).Recoverable())
		assert.True(t, PackFormat("p", nil).Recoverable())
		assert.False(t, ExecutionFault("e", nil).Recoverable())
		assert.False(t, SnapshotFault("s", nil).Recoverable())
	})

	t.Run("As", func(t *testing.T) {
		var e *Error
		assert.True(t, As(fmt.Errorf("wrapped: %w", NotFound("missing")), &e))
		assert.Equal(t, ErrorTypeNotFound, e.Type)
	})
}
