package audit_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/pilab-dev/mcp-oauth/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	audit.SetOutput(&buf)
	t.Cleanup(func() { audit.SetOutput(os.Stdout) })

	audit.Log("oauth", audit.ActionTokenRevoked, "c1", "alice", "rec-1", false, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "audit", entry["message"])
	assert.Equal(t, audit.ActionTokenRevoked, entry["action"])
	assert.Equal(t, "c1", entry["client_id"])
	assert.Equal(t, "rec-1", entry["target"])
	assert.Equal(t, false, entry["success"])
	assert.Equal(t, "boom", entry["error"])
}
