package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/authstress/internal/logging"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", JSON: true, Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.WithField("tag", "ValidLogin").Warn("request failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), "exactly one JSON line: %s", buf.String())
	assert.Equal(t, "request failed", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "ValidLogin", entry["tag"])
}

func TestNew_TextDefault(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Output: &buf})
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logging.New(logging.Options{Level: "loud"})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	logging.Discard().Error("nowhere")
}
