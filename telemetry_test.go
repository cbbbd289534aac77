package mpool

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpool-go/mpool/backend/mem"
)

func TestRegisterCollectorExportsOps(t *testing.T) {
	p, err := Open("prom", mem.New(), testOptions())
	require.NoError(t, err)
	defer p.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, p.RegisterCollector(reg))

	id, props, err := p.Mblocks().Allocate(0, false)
	require.NoError(t, err)
	require.NoError(t, p.Mblocks().WriteSync(id, 0, [][]byte{make([]byte, props.WriteAlign)}))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			if c := m.GetCounter(); c != nil {
				v = c.GetValue()
			} else if g := m.GetGauge(); g != nil {
				v = g.GetValue()
			}
			byName[mf.GetName()] += v
		}
	}

	assert.Greater(t, byName["mpool_ops_total"], 0.0)
	assert.Greater(t, byName["mpool_bytes_total"], 0.0)
	assert.Contains(t, byName, "mpool_uptime_nanoseconds")
}

func TestNewCollectorStandsAloneFromPool(t *testing.T) {
	m := NewMetrics()
	m.RecordMDCOp(128, 1_000, true)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
