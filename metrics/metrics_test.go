package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	Register(r)
	// second call is a no-op instead of a duplicate registration panic
	Register(r)
	assert.Equal(t, r, GetRegisterer())

	ServerDispatches.WithLabelValues("add", "SUCCESS").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(ServerDispatches.WithLabelValues("add", "SUCCESS")))

	families, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "reqrep_rpc_server_dispatches_total")
}
