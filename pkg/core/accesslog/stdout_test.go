//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manetu/cedarengine/pkg/core/engine"
)

func testRecord() *Record {
	return &Record{
		ID:         "req-1",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Store:      "demo",
		Action:     `Authz::Action::"read"`,
		Resource:   `Authz::Doc::"doc-1"`,
		Principals: []string{`Authz::Workload::"w1"`},
		Tokens:     []string{"access_token"},
		Decision:   true,
		Workload:   &engine.Decision{Allowed: true, Reasons: []string{"store.cedar.policy0"}},
		DurationUs: 1234,
	}
}

func TestIoWriterStreamCompact(t *testing.T) {
	var buf bytes.Buffer
	stream, err := NewIoWriterFactory(&buf).NewStream()
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(testRecord()))

	line := buf.String()
	assert.Equal(t, 1, strings.Count(line, "\n"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "req-1", decoded["id"])
	assert.Equal(t, true, decoded["decision"])
	assert.Equal(t, "demo", decoded["store"])

	workload, ok := decoded["workload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, workload["allowed"])
}

func TestIoWriterStreamPretty(t *testing.T) {
	var buf bytes.Buffer
	stream, err := NewIoWriterFactoryWithOptions(&buf, AccessLogOptions{PrettyPrint: true}).NewStream()
	require.NoError(t, err)

	require.NoError(t, stream.Send(testRecord()))
	assert.Greater(t, strings.Count(buf.String(), "\n"), 1)
}

func TestIoWriterStreamOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	stream, _ := NewIoWriterFactory(&buf).NewStream()

	require.NoError(t, stream.Send(&Record{ID: "req-2", Decision: false}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	_, hasUser := decoded["user"]
	assert.False(t, hasUser)
	_, hasReason := decoded["reason"]
	assert.False(t, hasReason)
}

func TestNullStream(t *testing.T) {
	stream, err := NewNullFactory().NewStream()
	require.NoError(t, err)
	assert.NoError(t, stream.Send(testRecord()))
	stream.Close()
}
