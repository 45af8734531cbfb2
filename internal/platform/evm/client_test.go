package evm

import (
	"bytes"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 1 << 32, math.MaxUint64} {
		word := uint64Word(v)
		require.Len(t, word, 32)

		got, err := wordToUint64(word)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestWordToUint64RejectsWrongLength(t *testing.T) {
	_, err := wordToUint64(make([]byte, 31))
	require.Error(t, err)

	_, err = wordToUint64(nil)
	require.Error(t, err)
}

func TestWordToUint64RejectsOverflow(t *testing.T) {
	over := new(big.Int).Add(
		new(big.Int).SetUint64(math.MaxUint64),
		big.NewInt(1),
	)
	word := make([]byte, 32)
	over.FillBytes(word)

	_, err := wordToUint64(word)
	require.Error(t, err)
}

func TestUint64WordIsBigEndian(t *testing.T) {
	word := uint64Word(1)
	want := append(bytes.Repeat([]byte{0}, 31), 1)
	assert.Equal(t, want, word)
}

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	require.NoError(t, err)
	assert.Equal(t, "0xE592427A0AEce92De3Edee1F18E0157C05861564", addr.Hex())

	_, err = parseAddress("not-an-address")
	require.Error(t, err)

	_, err = parseAddress("")
	require.Error(t, err)
}
