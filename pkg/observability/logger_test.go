package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lastLine decodes the most recent JSON record in buf
func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

func TestLoggerLevelGate(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("suppressed")
	assert.Zero(t, buf.Len())

	logger.Info("emitted")
	record := lastLine(t, &buf)
	assert.Equal(t, "emitted", record["msg"])
	assert.Equal(t, "INFO", record["level"])
}

func TestLoggerFieldsAreImmutable(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	derived := base.WithFields(map[string]interface{}{
		"artifact": "a-1",
	}).WithError(errors.New("boom"))

	derived.Warn("with fields")
	record := lastLine(t, &buf)
	assert.Equal(t, "a-1", record["artifact"])
	assert.Equal(t, "boom", record["error"])

	// The base logger picked up nothing from the derivation
	base.Info("plain")
	record = lastLine(t, &buf)
	assert.NotContains(t, record, "artifact")
	assert.NotContains(t, record, "error")
}

func TestFromContextAnnotatesIdentity(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithPrincipal(ctx, "urn:curio:user:test:alice")

	FromContext(ctx).Info("annotated")
	record := lastLine(t, &buf)
	assert.Equal(t, "req-42", record["request_id"])
	assert.Equal(t, "urn:curio:user:test:alice", record["principal"])
}
