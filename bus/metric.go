package bus

import (
	"sync/atomic"
)

// Metrics contains atomic metrics of a Bus.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ByteRecvCount indicates the number of bytes read from the port.
	ByteRecvCount atomic.Uint64
	// ByteSendCount indicates the number of bytes written to the port.
	ByteSendCount atomic.Uint64

	// RequestSendCount indicates the number of telegrams handed to the driver.
	RequestSendCount atomic.Uint64
	// RequestErrCount indicates the number of sent telegrams that ended with an error outcome.
	RequestErrCount atomic.Uint64
	// RequestInflightCount indicates the number of sent telegrams waiting for their outcome.
	RequestInflightCount atomic.Int64

	// SlaveRequestCount indicates the number of requests answered as slave.
	SlaveRequestCount atomic.Uint64
	// AutoSynCount indicates the number of SYNs generated by this node.
	AutoSynCount atomic.Uint64
	// EventDropCount indicates the number of events dropped because a subscriber was full.
	EventDropCount atomic.Uint64
}

func (m *Metrics) incByteRecvCount(n int) {
	m.ByteRecvCount.Add(uint64(n)) //nolint:gosec
}

func (m *Metrics) incByteSendCount(n int) {
	m.ByteSendCount.Add(uint64(n)) //nolint:gosec
}

func (m *Metrics) incRequestSendCount() {
	m.RequestSendCount.Add(1)
}

func (m *Metrics) incRequestErrCount() {
	m.RequestErrCount.Add(1)
}

func (m *Metrics) incRequestInflightCount() {
	m.RequestInflightCount.Add(1)
}

func (m *Metrics) decRequestInflightCount() {
	m.RequestInflightCount.Add(-1)
}

func (m *Metrics) incSlaveRequestCount() {
	m.SlaveRequestCount.Add(1)
}

func (m *Metrics) incAutoSynCount() {
	m.AutoSynCount.Add(1)
}

func (m *Metrics) incEventDropCount() {
	m.EventDropCount.Add(1)
}
