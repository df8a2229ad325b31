package demod

import (
	"math"
	"math/cmplx"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

// Gate slots.
const (
	early = iota
	onTime
	late
	numSlots
)

// runReset is the run length after which both references are re-seeded from
// the on-time gate history.
const runReset = 4

const codeMask = 1<<frame.CodeBits - 1

// result reports what one tick produced on one channel.
type result struct {
	onTime   bool
	preamble bool
	flipped  bool
	valid    bool
	payload  [frame.PayloadSize]byte
}

// channel holds the complete receive state of one correlator output.
type channel struct {
	cross       bool
	sps         int
	delta       int
	flushPeriod int

	// moving sum over the last sps ticks
	ring     []complex64
	idx      int
	sum      complex64
	flushCnt int

	// early-late gate
	gateCnt  int
	gatePrev [numSlots]complex64
	gateCurr [numSlots]complex64

	// decision-directed references
	ref0, ref1 complex64
	run0, run1 int

	reg uint64
}

func newChannel(cross bool, sps, delta, flushPeriod int) channel {
	return channel{
		cross:       cross,
		sps:         sps,
		delta:       delta,
		flushPeriod: flushPeriod,
		ring:        make([]complex64, sps),
	}
}

func (c *channel) reset() {
	clear(c.ring)
	ring := c.ring
	*c = channel{
		cross:       c.cross,
		sps:         c.sps,
		delta:       c.delta,
		flushPeriod: c.flushPeriod,
		ring:        ring,
	}
}

// step feeds one decimated sample through the moving sum and the timing gate.
func (c *channel) step(x complex64) result {
	c.idx = (c.idx + 1) % c.sps
	c.sum += x - c.ring[c.idx]
	c.ring[c.idx] = x

	res := c.sync(c.sum)

	c.flushCnt++
	if c.flushCnt >= c.flushPeriod {
		c.flush()
		c.flushCnt = 0
	}

	return res
}

// flush recomputes the moving sum from the ring to shed accumulated rounding.
func (c *channel) flush() {
	var s complex64
	for _, v := range c.ring {
		s += v
	}
	c.sum = s
}

// sync advances the gate counter and captures the early, on-time and late
// samples around the symbol centre.
func (c *channel) sync(sample complex64) (res result) {
	c.gateCnt++

	switch c.gateCnt {
	case c.sps - c.delta:
		c.capture(early, sample)

	case c.sps:
		c.capture(onTime, sample)
		c.demodulate(sample)
		res = c.decode()
		res.onTime = true

	case c.sps + c.delta:
		c.capture(late, sample)

		var dist [numSlots]float64
		for i := range dist {
			dist[i] = c.distance(c.gateCurr[i], c.gatePrev[i])
		}

		switch {
		case dist[onTime] < dist[early] && dist[late] < dist[early]:
			c.gateCnt = c.delta + 1
		case dist[early] < dist[onTime] && dist[late] < dist[onTime]:
			c.gateCnt = c.delta
		default:
			c.gateCnt = c.delta - 1
		}
	}

	return res
}

func (c *channel) capture(slot int, sample complex64) {
	c.gatePrev[slot] = c.gateCurr[slot]
	c.gateCurr[slot] = sample
}

// demodulate slices the on-time sample against the two references and
// shifts the decision into the register.
func (c *channel) demodulate(sample complex64) {
	d0 := c.distance(c.ref0, sample)
	d1 := c.distance(c.ref1, sample)

	c.reg = c.reg << 1 & codeMask
	if d0 < d1 {
		if c.run0 > 0 {
			c.gateCnt = 0
		}
		c.run0++
		c.run1 = 0
		c.ref0 = sample
	} else {
		if c.run1 > 0 {
			c.gateCnt = 0
		}
		c.run0 = 0
		c.run1++
		c.ref1 = sample
		c.reg |= 1
	}

	if c.run0 >= runReset || c.run1 >= runReset {
		c.run0, c.run1 = 0, 0
		c.ref0 = c.gateCurr[onTime]
		c.ref1 = c.gatePrev[onTime]
	}
}

func (c *channel) decode() (res result) {
	res.payload, res.flipped, res.preamble, res.valid = frame.Decode(c.reg)
	return res
}

// distance is the phase difference for cross channels and the magnitude
// difference for auto channels.
func (c *channel) distance(a, b complex64) float64 {
	if c.cross {
		return math.Abs(cmplx.Phase(complex128(a * conj(b))))
	}
	return cmplx.Abs(complex128(a - b))
}

func conj(x complex64) complex64 {
	return complex(real(x), -imag(x))
}
