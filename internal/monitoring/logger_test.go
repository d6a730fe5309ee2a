package monitoring

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	t.Cleanup(func() { Logf = original })

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("run %s started", "r1")
	assert.Equal(t, []string{"run r1 started"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped %d", 1) })
	assert.Len(t, got, 1, "nil logger discards")
}

func TestWritersForLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tests := []struct {
		level             string
		ops, diag, trace bool
	}{
		{"ops", true, false, false},
		{"diag", true, true, false},
		{"", true, true, false},
		{"TRACE", true, true, true},
		{"chatty", true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()
			w := WritersForLevel(tt.level, &buf)
			assert.Equal(t, tt.ops, w.Ops != nil, "ops")
			assert.Equal(t, tt.diag, w.Diag != nil, "diag")
			assert.Equal(t, tt.trace, w.Trace != nil, "trace")
		})
	}
}
