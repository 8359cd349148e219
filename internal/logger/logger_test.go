package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("shipping-service", &buf)

	log.Info("order shipped", map[string]any{"order_id": "o-1", "err": errors.New("ignored")})
	log.Critical("dlq publish failed", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "order shipped", lines[0]["msg"])
	assert.Equal(t, "shipping-service", lines[0]["service"])
	assert.Equal(t, "o-1", lines[0]["order_id"])
	assert.Equal(t, "ignored", lines[0]["err"])
	assert.NotEmpty(t, lines[0]["ts"])

	assert.Equal(t, "CRITICAL", lines[1]["level"])
}
