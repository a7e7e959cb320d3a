package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg)

	m.MessageSent("CON")
	m.MessageSent("CON")
	m.MessageReceived("ACK")
	m.Retransmission()
	m.Duplicate()
	m.Timeout()
	m.Rejection()
	m.MalformedMessage()
	m.UnsolicitedResponse()
	m.SetActiveExchanges(3)
	m.BlockTransfer("block2", true)
	m.BlockTransfer("block1", false)

	require.Equal(t, float64(2), testutil.ToFloat64(m.MessagesSent.WithLabelValues("CON")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.MessagesReceived.WithLabelValues("ACK")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Retransmissions))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Duplicates))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Timeouts))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Rejections))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Malformed))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Unsolicited))
	require.Equal(t, float64(3), testutil.ToFloat64(m.ActiveExchanges))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BlockTransfers.WithLabelValues("block2", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BlockTransfers.WithLabelValues("block1", "error")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Positive(t, count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.MessageSent("CON")
		m.MessageReceived("NON")
		m.Retransmission()
		m.Duplicate()
		m.Timeout()
		m.Rejection()
		m.MalformedMessage()
		m.UnsolicitedResponse()
		m.SetActiveExchanges(1)
		m.BlockTransfer("block1", true)
	})
}
