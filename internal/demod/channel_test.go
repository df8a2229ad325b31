package demod

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
	"github.com/xiaogaogaoxiao/anyscatter/internal/testutil"
)

func TestChannel_MovingSum(t *testing.T) {
	c := newChannel(false, 4, 1, 1000)

	in := []complex64{1, 2, 3, 4, 5, 6, 7}
	want := []complex64{1, 3, 6, 10, 14, 18, 22}
	for i, x := range in {
		c.step(x)
		assert.Equal(t, want[i], c.sum, "tick %d", i)
	}
}

func TestChannel_Flush(t *testing.T) {
	c := newChannel(false, 4, 1, 3)

	for _, x := range []complex64{1, 2, 3} {
		c.step(x)
	}
	assert.Zero(t, c.flushCnt)

	// Corrupt the running sum; the next flush must restore it from the ring.
	c.sum += 100
	c.step(4)
	c.step(5)
	c.step(6)
	assert.Equal(t, complex64(4+5+6+3), c.sum)
}

func TestChannel_Distance(t *testing.T) {
	cross := newChannel(true, 8, 1, 1000)
	auto := newChannel(false, 8, 1, 1000)

	assert.InDelta(t, 1.5707963, cross.distance(1i, 1), 1e-6)
	assert.InDelta(t, 1.5707963, cross.distance(1, 1i), 1e-6)
	assert.InDelta(t, 0, cross.distance(2, 5), 1e-9)
	assert.InDelta(t, 3.1415926, cross.distance(-1, 1), 1e-6)

	assert.InDelta(t, 5, auto.distance(3+4i, 0), 1e-6)
	assert.InDelta(t, 3, auto.distance(2, 5), 1e-6)
}

func TestChannel_Decision(t *testing.T) {
	c := newChannel(false, 8, 1, 1000)
	c.ref0, c.ref1 = 0, 10

	c.demodulate(1)
	c.demodulate(9)
	c.demodulate(5) // tie goes to 1
	c.demodulate(2)

	assert.Equal(t, uint64(0b0110), c.reg)
	assert.Equal(t, complex64(2), c.ref0)
	assert.Equal(t, complex64(5), c.ref1)
	assert.Equal(t, 1, c.run0)
	assert.Zero(t, c.run1)
}

func TestChannel_RegisterIs40Bits(t *testing.T) {
	c := newChannel(false, 8, 1, 1000)
	c.ref0, c.ref1 = 0, 10

	for range 64 {
		c.ref0, c.ref1 = 0, 10
		c.run0, c.run1 = 0, 0
		c.demodulate(10)
	}
	assert.Equal(t, uint64(1<<frame.CodeBits-1), c.reg)
}

func TestChannel_RepeatForcesGateRestart(t *testing.T) {
	c := newChannel(false, 8, 1, 1000)
	c.ref0, c.ref1 = 0, 10

	c.gateCnt = 5
	c.demodulate(1)
	assert.Equal(t, 5, c.gateCnt, "first decision of a run keeps the gate")

	c.demodulate(1)
	assert.Zero(t, c.gateCnt, "repeated decision restarts the gate")

	c.gateCnt = 5
	c.demodulate(9)
	assert.Equal(t, 5, c.gateCnt)
}

func TestChannel_RunLengthReset(t *testing.T) {
	c := newChannel(false, 8, 1, 1000)
	c.ref0, c.ref1 = 0, 10
	c.gateCurr[onTime] = 7
	c.gatePrev[onTime] = 3

	for i := range runReset - 1 {
		c.demodulate(1)
		require.Equal(t, i+1, c.run0)
	}
	c.demodulate(1)

	assert.Zero(t, c.run0)
	assert.Zero(t, c.run1)
	assert.Equal(t, complex64(7), c.ref0)
	assert.Equal(t, complex64(3), c.ref1)
	assert.Zero(t, c.reg)
}

func TestChannel_RunLengthResetOnOnes(t *testing.T) {
	c := newChannel(true, 8, 1, 1000)
	c.ref0, c.ref1 = 1, 1i
	c.gateCurr[onTime] = -1
	c.gatePrev[onTime] = 1i

	for range runReset {
		c.demodulate(1i)
	}

	assert.Zero(t, c.run0)
	assert.Zero(t, c.run1)
	assert.Equal(t, complex64(-1), c.ref0)
	assert.Equal(t, complex64(1i), c.ref1)
	assert.Equal(t, uint64(0b1111), c.reg)
}

func TestChannel_GateSlots(t *testing.T) {
	c := newChannel(false, 16, 2, 1000)

	var onTimeTicks []int
	for tick := 1; tick <= 18; tick++ {
		if c.sync(complex64(complex(float32(tick), 0))).onTime {
			onTimeTicks = append(onTimeTicks, tick)
		}
	}

	assert.Equal(t, []int{16}, onTimeTicks)
	assert.Equal(t, complex64(14), c.gateCurr[early])
	assert.Equal(t, complex64(16), c.gateCurr[onTime])
	assert.Equal(t, complex64(18), c.gateCurr[late])
	// On a rising ramp the late slot moved furthest, so neither the early
	// nor the on-time branch applies.
	assert.Equal(t, 1, c.gateCnt)
}

// onTimeTicks drives a channel with a two-level square wave of period
// 2·sps, shifted by offset ticks, and returns the on-time ticks.
func onTimeTicks(cross bool, sps, offset, symbols int, levels [2]complex64) []int {
	delta := int(float64(sps)/8 + 0.5)
	c := newChannel(cross, sps, delta, 1000)

	var ticks []int
	for tick := range symbols * sps {
		k := (tick + offset) / sps
		if c.step(levels[k%2]).onTime {
			ticks = append(ticks, tick)
		}
	}
	return ticks
}

func TestChannel_TimingConvergence(t *testing.T) {
	const (
		symbols = 300
		warmup  = 40
	)

	kinds := []struct {
		name   string
		cross  bool
		levels [2]complex64
	}{
		{"auto", false, [2]complex64{2, 5}},
		{"cross", true, [2]complex64{1, 1i}},
	}

	for _, kind := range kinds {
		for _, sps := range []int{8, 12, 16, 24, 32} {
			delta := int(float64(sps)/8 + 0.5)
			for offset := range sps {
				t.Run(fmt.Sprintf("%s/sps=%d/offset=%d", kind.name, sps, offset), func(t *testing.T) {
					ticks := onTimeTicks(kind.cross, sps, offset, symbols, kind.levels)
					require.Greater(t, len(ticks), warmup+symbols/2)
					ticks = ticks[warmup:]

					lo, hi := 0, 0
					for k := 1; k < len(ticks); k++ {
						spacing := ticks[k] - ticks[k-1]
						if !testutil.AssertInRange(t, spacing, sps-delta, sps+delta, "spacing at %d", k) {
							return
						}

						dev := ticks[k] - ticks[0] - k*sps
						lo, hi = min(lo, dev), max(hi, dev)
					}
					assert.LessOrEqual(t, hi-lo, 2*delta, "phase wander")
				})
			}
		}
	}
}
