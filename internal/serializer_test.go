package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONSerializerRoundTrip(t *testing.T) {
	s := &jsonSerializer{}

	data, err := s.Serialize(map[string]interface{}{"a": 1, "b": "two"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, s.Deserialize(data, &out))
	require.Equal(t, float64(1), out["a"])
	require.Equal(t, "two", out["b"])
}

func TestJSONSerializerNilValue(t *testing.T) {
	s := &jsonSerializer{}
	data, err := s.Serialize(nil)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestJSONSerializerDeserializeEmpty(t *testing.T) {
	s := &jsonSerializer{}
	var out interface{}
	require.NoError(t, s.Deserialize(nil, &out))
	require.Nil(t, out)
}
