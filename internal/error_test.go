package internal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeErrorRoundTripPreservesKind(t *testing.T) {
	s := &jsonSerializer{}

	cases := []error{
		NewWorkflowConflictIDError("wf-1"),
		NewNonExistentWorkflowError("wf-2"),
		NewWorkflowFunctionNotFoundError("wf-3", "not registered"),
		NewRecoveryError("wf-4", "missing status row"),
		NewMaxStepRetriesExceededError(3, errors.New("boom")),
		newCorruptRecordError("wf-5", 2),
		NewDBOSException("bad precondition"),
	}

	for _, original := range cases {
		data, err := s.SerializeError(original)
		require.NoError(t, err)
		require.NotEmpty(t, data)

		reconstructed, derr := s.DeserializeError(data)
		require.NoError(t, derr)
		require.IsType(t, original, reconstructed)
		require.Equal(t, original.Error(), reconstructed.Error())
	}
}

func TestSerializeErrorNil(t *testing.T) {
	s := &jsonSerializer{}
	data, err := s.SerializeError(nil)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestDeserializeErrorEmpty(t *testing.T) {
	s := &jsonSerializer{}
	err, derr := s.DeserializeError(nil)
	require.NoError(t, derr)
	require.Nil(t, err)
}

func TestAsErrorHelper(t *testing.T) {
	var err error = NewWorkflowConflictIDError("wf-1")
	require.True(t, asError[*WorkflowConflictIDError](err))
	require.False(t, asError[*RecoveryError](err))
}
