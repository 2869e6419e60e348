package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		resp, err := ParseResponse(`{"thought": "check the logs", "action": "sql_query_tool", "parameters": {"query_string": "SELECT 1"}}`)
		require.NoError(t, err)
		assert.Equal(t, "sql_query_tool", resp.Action)
		assert.Equal(t, "SELECT 1", resp.Parameters["query_string"])
	})

	t.Run("json fence stripped", func(t *testing.T) {
		resp, err := ParseResponse("```json\n{\"thought\": \"t\", \"action\": \"finish_step\", \"parameters\": {}}\n```")
		require.NoError(t, err)
		assert.Equal(t, "finish_step", resp.Action)
	})

	t.Run("bare fence stripped", func(t *testing.T) {
		resp, err := ParseResponse("```\n{\"thought\": \"t\", \"action\": \"finish_step\", \"parameters\": {}}\n```")
		require.NoError(t, err)
		assert.Equal(t, "finish_step", resp.Action)
	})

	t.Run("surrounding whitespace tolerated", func(t *testing.T) {
		resp, err := ParseResponse("  \n{\"thought\": \"t\", \"action\": \"a\", \"parameters\": {}}\n  ")
		require.NoError(t, err)
		assert.Equal(t, "a", resp.Action)
	})

	t.Run("prose is malformed", func(t *testing.T) {
		_, err := ParseResponse("I think we should check the gateway logs first.")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("missing action is malformed", func(t *testing.T) {
		_, err := ParseResponse(`{"thought": "t", "parameters": {}}`)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("nil parameters become empty map", func(t *testing.T) {
		resp, err := ParseResponse(`{"thought": "t", "action": "a"}`)
		require.NoError(t, err)
		assert.NotNil(t, resp.Parameters)
	})
}
