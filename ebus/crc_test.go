package ebus

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrc_Vectors(t *testing.T) {
	tests := []struct {
		name string
		poly byte
		in   []byte
		want byte
	}{
		{"empty", TelegramPolynomial, nil, 0x00},
		{"single byte", TelegramPolynomial, []byte{0x1E}, 0x1E},
		{"telegram", TelegramPolynomial, []byte{0x10, 0x31, 0x05, 0x03, 0x02, 0x4A, 0x7C}, 0x64},
		{"escaped reply", TelegramPolynomial, []byte{0x02, 0xA9, 0x00, 0xDA}, 0x82},
		{"data", DataPolynomial, []byte{0x0F, 0x00}, 0x90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewCrc(tt.poly).AddMultiple(tt.in).Value())
			assert.Equal(t, tt.want, CalcCrc(tt.poly, tt.in))
		})
	}
}

func TestCrc_IncrementalEqualsOneShot(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2)) //nolint:gosec

	for range 200 {
		data := make([]byte, r.IntN(64))
		for i := range data {
			data[i] = byte(r.UintN(256))
		}

		inc := NewCrc(TelegramPolynomial)
		for _, b := range data {
			inc = inc.Add(b)
		}

		split := r.IntN(len(data) + 1)
		chunked := NewCrc(TelegramPolynomial).AddMultiple(data[:split]).AddMultiple(data[split:])

		assert.Equal(t, NewCrc(TelegramPolynomial).AddMultiple(data).Value(), inc.Value())
		assert.Equal(t, inc.Value(), chunked.Value())
		assert.Equal(t, inc.Value(), CalcCrc(TelegramPolynomial, data[:split], data[split:]))
	}
}

func TestCrc_ValueSemantics(t *testing.T) {
	base := NewCrc(TelegramPolynomial).Add(0x10)
	forked := base.Add(0x31)

	assert.Equal(t, byte(0x10), base.Value(), "Add must not modify the receiver")
	assert.NotEqual(t, base.Value(), forked.Value())
	assert.Equal(t, TelegramPolynomial, forked.Polynomial())

	cleared := forked.Reset()
	assert.Equal(t, byte(0), cleared.Value())
	assert.Equal(t, TelegramPolynomial, cleared.Polynomial())
}
