package ebus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder is a Transmitter that records what the driver sent without
// looping it back.
type recorder struct {
	sent []byte
	err  error
}

func (r *recorder) Transmit(p []byte) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, p...)

	return nil
}

func newTestDriver(t *testing.T, addr byte, opts ...Option) *Driver {
	t.Helper()

	d, err := NewDriver(addr, opts...)
	require.NoError(t, err)

	return d
}

// feed processes bs one at a time and returns the results that are not None.
func feed(t *testing.T, d *Driver, tx Transmitter, bs ...byte) []ProcessResult {
	t.Helper()

	var results []ProcessResult
	for _, b := range bs {
		res, err := d.Process(b, tx)
		require.NoError(t, err, "byte 0x%02X", b)
		if !res.IsNone() {
			results = append(results, res)
		}
	}

	return results
}

func requestWire(t *testing.T, src, dest byte, service uint16, data []byte, flags TelegramFlags) []byte {
	t.Helper()

	mt, err := NewMasterTelegram(src, dest, service, data, flags)
	require.NoError(t, err)

	return mt.AppendWire(nil)
}

// busSim is a single-wire bus: every byte written by any attached driver is
// delivered, in order, to every attached driver including the writer.
type busSim struct {
	t       *testing.T
	drivers []*Driver
	pending []byte
	wire    []byte
	results map[*Driver][]ProcessResult
	// onResult is called for every result, e.g. to answer slave requests.
	onResult func(d *Driver, res ProcessResult)
}

func newBusSim(t *testing.T, drivers ...*Driver) *busSim {
	t.Helper()

	return &busSim{
		t:       t,
		drivers: drivers,
		results: make(map[*Driver][]ProcessResult),
	}
}

func (s *busSim) Transmit(p []byte) error {
	s.pending = append(s.pending, p...)
	return nil
}

// inject puts bytes of a node outside the simulation on the wire and runs the bus.
func (s *busSim) inject(bs ...byte) {
	s.pending = append(s.pending, bs...)
	s.run()
}

func (s *busSim) run() {
	s.t.Helper()

	for n := 0; len(s.pending) > 0; n++ {
		require.Less(s.t, n, 10000, "bus does not settle")

		b := s.pending[0]
		s.pending = s.pending[1:]
		s.wire = append(s.wire, b)

		for _, d := range s.drivers {
			res, err := d.Process(b, s)
			require.NoError(s.t, err)
			if res.IsNone() {
				continue
			}
			s.results[d] = append(s.results[d], res)
			if s.onResult != nil {
				s.onResult(d, res)
			}
		}
	}
}

func (s *busSim) kinds(d *Driver) []ResultKind {
	kinds := make([]ResultKind, 0, len(s.results[d]))
	for _, r := range s.results[d] {
		kinds = append(kinds, r.Kind)
	}

	return kinds
}
