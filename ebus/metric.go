package ebus

import (
	"sync/atomic"
)

// DriverMetrics contains atomic counters of a Driver.
// They may be read from any goroutine, e.g. as the value of a prometheus CounterFunc.
type DriverMetrics struct {
	// ByteRecvCount indicates the number of bytes processed.
	ByteRecvCount atomic.Uint64
	// SynRecvCount indicates the number of SYN bytes processed.
	SynRecvCount atomic.Uint64
	// TelegramRecvCount indicates the number of telegrams framed with a valid CRC.
	TelegramRecvCount atomic.Uint64
	// TelegramErrCount indicates the number of telegrams that failed the CRC check.
	TelegramErrCount atomic.Uint64
	// RequestCount indicates the number of telegrams addressed to this node.
	RequestCount atomic.Uint64

	// ArbitrationWonCount indicates the number of arbitrations won.
	ArbitrationWonCount atomic.Uint64
	// ArbitrationLostCount indicates the number of arbitrations lost.
	ArbitrationLostCount atomic.Uint64
	// CollisionCount indicates the number of echo mismatches outside arbitration.
	CollisionCount atomic.Uint64
	// RepeatCount indicates the number of telegrams or replies sent a second time after a NACK.
	RepeatCount atomic.Uint64
	// TimeoutCount indicates the number of exchanges ended by AUTO-SYN.
	TimeoutCount atomic.Uint64
}

func (m *DriverMetrics) incByteRecvCount() {
	m.ByteRecvCount.Add(1)
}

func (m *DriverMetrics) incSynRecvCount() {
	m.SynRecvCount.Add(1)
}

func (m *DriverMetrics) incTelegramRecvCount() {
	m.TelegramRecvCount.Add(1)
}

func (m *DriverMetrics) incTelegramErrCount() {
	m.TelegramErrCount.Add(1)
}

func (m *DriverMetrics) incRequestCount() {
	m.RequestCount.Add(1)
}

func (m *DriverMetrics) incArbitrationWonCount() {
	m.ArbitrationWonCount.Add(1)
}

func (m *DriverMetrics) incArbitrationLostCount() {
	m.ArbitrationLostCount.Add(1)
}

func (m *DriverMetrics) incCollisionCount() {
	m.CollisionCount.Add(1)
}

func (m *DriverMetrics) incRepeatCount() {
	m.RepeatCount.Add(1)
}

func (m *DriverMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}
