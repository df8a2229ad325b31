package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuild(t *testing.T) {
	payload := Build(0x12345)

	assert.Equal(t, [PayloadSize]byte{0xA1, 0x23, 0x45, 0x6E}, payload)
	assert.Equal(t, uint32(0x12345), Data(payload))
	assert.True(t, Record{Payload: payload}.Valid())
}

func TestBuild_MasksDataBits(t *testing.T) {
	assert.Equal(t, Build(0x0BEEF), Build(0xF0BEEF))
}

func TestEncode_Layout(t *testing.T) {
	code := Encode(Build(0x12345))
	require.Len(t, code, CodeBits)

	want := []byte{
		1, 0, 1, 0, 1, 0, 0, 0, 1, 0,
		0, 0, 1, 0, 1, 0, 0, 1, 1, 0,
		0, 1, 0, 0, 1, 0, 1, 0, 1, 0,
		0, 1, 1, 0, 1, 1, 1, 1, 0, 1,
	}
	assert.Equal(t, want, code)
}

func TestEncode_RunLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.Uint32Range(0, 1<<DataBits-1).Draw(t, "data")
		code := Encode(Build(data))

		if run := LongestRun(code); run > groupBits {
			t.Fatalf("run of %d identical symbols", run)
		}
	})
}

func TestLongestRun(t *testing.T) {
	assert.Equal(t, 0, LongestRun(nil))
	assert.Equal(t, 1, LongestRun([]byte{1, 0, 1}))
	assert.Equal(t, 3, LongestRun([]byte{1, 0, 0, 0, 1, 1}))
	assert.Equal(t, 4, LongestRun([]byte{0, 1, 1, 1, 1}))
}

func TestDecodable(t *testing.T) {
	tests := []struct {
		data uint32
		want bool
	}{
		{0x12345, true},
		{0x55555, true},
		{0x00000, true},
		{0xFFFFF, false},
		{0xF2330, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decodable(tt.data), "%#05x", tt.data)
	}
}

// A five-symbol run is a nibble of 0000 or 1111 behind a stuffing bit of the
// same level, which is the complement of the previous nibble's last bit.
func TestDecodable_MatchesNibbles(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.Uint32Range(0, 1<<DataBits-1).Draw(t, "data")
		payload := Build(data)

		var nibbles []byte
		for _, b := range payload {
			nibbles = append(nibbles, b>>nibbleBits, b&0x0F)
		}
		want := true
		for i := 1; i < len(nibbles); i++ {
			stuffed := nibbles[i-1]&1 ^ 1
			if (nibbles[i] == 0x0 && stuffed == 0) || (nibbles[i] == 0xF && stuffed == 1) {
				want = false
			}
		}
		if got := Decodable(data); got != want {
			t.Fatalf("Decodable(%#05x) = %v, want %v", data, got, want)
		}
	})
}

func TestDecode_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.Uint32Range(0, 1<<DataBits-1).Draw(t, "data")
		payload := Build(data)

		got, flipped, preamble, ok := Decode(Bits(Encode(payload)))
		if !preamble || !ok || flipped {
			t.Fatalf("decode failed: preamble=%v ok=%v flipped=%v", preamble, ok, flipped)
		}
		if got != payload {
			t.Fatalf("payload %X, want %X", got, payload)
		}
	})
}

func TestDecode_Inverted(t *testing.T) {
	payload := Build(0xBEEF1)
	reg := ^Bits(Encode(payload)) & (1<<CodeBits - 1)

	got, flipped, preamble, ok := Decode(reg)
	assert.True(t, preamble)
	assert.True(t, flipped)
	assert.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestDecode_NoPreamble(t *testing.T) {
	_, _, preamble, ok := Decode(0)
	assert.False(t, preamble)
	assert.False(t, ok)

	_, _, preamble, _ = Decode(1<<CodeBits - 1)
	assert.False(t, preamble)
}

// dataPositions lists the register bits that feed payload bytes.
func dataPositions() []int {
	var pos []int
	for i := 0; i < PayloadSize; i++ {
		for j := 0; j < nibbleBits; j++ {
			pos = append(pos, CodeBits-1-i*10-j, CodeBits-6-i*10-j)
		}
	}
	return pos
}

func TestDecode_SingleBitCorruption(t *testing.T) {
	reg := Bits(Encode(Build(0x5A5A5)))

	for _, bit := range dataPositions() {
		_, _, preamble, ok := Decode(reg ^ 1<<bit)
		assert.False(t, preamble && ok, "corruption of bit %d accepted", bit)
	}
}

func TestDecode_IgnoresStuffingBits(t *testing.T) {
	payload := Build(0x5A5A5)
	reg := Bits(Encode(payload))

	// Bit 35 belongs to the preamble check; 30, 25, ... 0 are ignored.
	for _, bit := range []int{30, 25, 20, 15, 10, 5, 0} {
		got, _, preamble, ok := Decode(reg ^ 1<<bit)
		assert.True(t, preamble && ok, "stuffing bit %d", bit)
		assert.Equal(t, payload, got)
	}
}

func TestRecord_Binary(t *testing.T) {
	rec := Record{Payload: [4]byte{0xA1, 0x23, 0x45, 0x6E}, Channel: 0x0102, NumAntennas: 4}

	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, 0x23, 0x45, 0x6E, 0x02, 0x01, 0x04, 0x00}, b)

	var got Record
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, rec, got)

	assert.ErrorIs(t, got.UnmarshalBinary(b[:7]), ErrRecordSize)
}

func TestRecord_String(t *testing.T) {
	rec := Record{Payload: [4]byte{0xA1, 0x23, 0x45, 0x6E}, Channel: 3, NumAntennas: 4}
	assert.Equal(t, "A1 23 45 6E | 3", rec.String())
}
