//
//  Copyright © Manetu Inc. All rights reserved.
//

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	resetForTesting()

	var buf bytes.Buffer
	l := GetLogger("fieldtest")
	l.SetOut(&buf)

	l.Info("svc", "doWork", "hello")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "svc", record["actor"])
	assert.Equal(t, "doWork", record["action"])
	assert.Equal(t, "fieldtest", record["module"])
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "info", record["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	resetForTesting()

	var buf bytes.Buffer
	l := GetLogger("filtertest")
	l.SetOut(&buf)
	l.SetLevel(zapcore.WarnLevel)

	l.Debug("svc", "op", "suppressed")
	l.Info("svc", "op", "suppressed")
	assert.Empty(t, buf.String())

	l.Warn("svc", "op", "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLoggerSysVariants(t *testing.T) {
	resetForTesting()

	var buf bytes.Buffer
	l := GetLogger("systest")
	l.SetOut(&buf)

	l.SysWarnf("count=%d", 42)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record))
	assert.Equal(t, "sys", record["actor"])
	assert.Equal(t, "unk", record["action"])
	assert.Equal(t, "count=42", record["msg"])
}

func TestLoggerFormattedOutput(t *testing.T) {
	resetForTesting()

	var buf bytes.Buffer
	l := GetLogger("fmttest")
	l.SetOut(&buf)

	l.Infof("svc", "op", "value: %s/%d", "x", 7)
	assert.Contains(t, buf.String(), "value: x/7")
}
