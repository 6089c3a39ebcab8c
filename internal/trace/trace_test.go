package trace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		module  Module
		level   int
		enabled bool
	}{
		{name: "empty disables everything", spec: "", module: DedupBlocks, level: 1, enabled: false},
		{name: "bare number applies to all", spec: "2", module: Args, level: 2, enabled: true},
		{name: "bare number caps level", spec: "2", module: Args, level: 3, enabled: false},
		{name: "module spec", spec: "DEDUP_BLOCKS:4", module: DedupBlocks, level: 4, enabled: true},
		{name: "other module stays off", spec: "DEDUP_BLOCKS:4", module: LocalDCE, level: 1, enabled: false},
		{name: "mixed spec", spec: "1,ARGS:3", module: Args, level: 3, enabled: true},
		{name: "mixed spec default", spec: "1,ARGS:3", module: CFG, level: 1, enabled: true},
		{name: "garbage ignored", spec: "ARGS:x,,", module: Args, level: 1, enabled: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			SetSpec(tc.spec)
			defer SetSpec("")
			assert.Equal(t, tc.enabled, Enabled(tc.module, tc.level))
		})
	}
}

func TestLogf(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetSpec("DEDUP_BLOCKS:2")
	defer SetSpec("")

	Logf(DedupBlocks, 3, "too verbose")
	require.Empty(t, buf.String())

	Logf(DedupBlocks, 2, "removed %d blocks", 5)
	out := buf.String()
	require.Contains(t, out, "removed 5 blocks")
	require.Contains(t, out, "DEDUP_BLOCKS")
}
