package version

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuild(t *testing.T, v, c, d string) {
	t.Helper()
	oldVersion, oldCommit, oldDate := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() {
		version, commit, date = oldVersion, oldCommit, oldDate
	})
}

func TestGet_Defaults(t *testing.T) {
	info := Get()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.Date)
	assert.Equal(t, "version=dev commit=unknown date=unknown", String())
}

func TestGet_LinkerOverrides(t *testing.T) {
	withBuild(t, "v1.4.0", "abc123", "2026-03-01")

	info := Get()
	assert.Equal(t, BuildInfo{Version: "v1.4.0", Commit: "abc123", Date: "2026-03-01"}, info)
	assert.True(t, strings.HasPrefix(info.String(), "version=v1.4.0 "))
}

func TestCollector(t *testing.T) {
	withBuild(t, "v2.0.0", "def456", "2026-04-02")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(Get().Collector("orchestrator")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "saga_build_info", families[0].GetName())

	metric := families[0].GetMetric()[0]
	assert.Equal(t, 1.0, metric.GetGauge().GetValue())

	labels := map[string]string{}
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, "orchestrator", labels["service"])
	assert.Equal(t, "v2.0.0", labels["version"])
	assert.Equal(t, "def456", labels["commit"])
}
