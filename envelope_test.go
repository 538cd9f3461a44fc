package hasocket

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestResultFinishClearsDataOnError(t *testing.T) {
	t.Parallel()

	r := NewResult("a", "b")
	r.AddError(NewError(ErrorTypeNotFound, "missing"))
	r.Finish()

	assert.False(t, r.Ok)
	assert.Empty(t, r.Data)
	require.Error(t, r.Err())
	assert.Equal(t, "NotFound: missing", r.Err().Error())
}

func TestResultOk(t *testing.T) {
	t.Parallel()

	r := NewResult().Finish()
	assert.True(t, r.Ok)
	assert.NotNil(t, r.Data)
	assert.Nil(t, r.SingleData())
	assert.NoError(t, r.Err())

	r.Add(1, 2)
	assert.Equal(t, 1, r.SingleData())
}

func TestResultMultipleErrors(t *testing.T) {
	t.Parallel()

	r := NewErrorResult(NewError(ErrorTypeException, "a"), NewError(ErrorTypeNotFound, "b"))
	err := r.Err()
	assert.EqualError(t, err, "Exception: a; NotFound: b")
	assert.Len(t, multierr.Errors(err), 2)

	var first Error
	require.True(t, errors.As(err, &first))
	assert.Equal(t, ErrorTypeException, first.Type)
}

func TestNodeUnavailableError(t *testing.T) {
	t.Parallel()

	err := error(&NodeUnavailableError{Endpoint: "ws://a/ws/data", Err: ErrConnectTimeout})
	assert.True(t, errors.Is(err, ErrNodeUnavailable))
	assert.True(t, errors.Is(err, ErrConnectTimeout))
	assert.False(t, errors.Is(err, ErrRequestTimeout))
}
