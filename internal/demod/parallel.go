package demod

import (
	"cmp"
	"slices"
	"sync"
)

// event is a preamble hit recorded by a channel goroutine.
type event struct {
	tick    int
	channel int
	res     result
}

// workParallel runs each channel over the whole batch on its own goroutine,
// then replays the recorded hits in (tick, channel) order so observers and
// the publisher see exactly the sequential sequence.
func (d *Demodulator) workParallel(n int, in []complex64) {
	var wg sync.WaitGroup

	for ch := range d.channels {
		wg.Add(1)
		go func(channel int) {
			defer wg.Done()

			c := &d.channels[channel]
			events := d.events[channel][:0]
			for t := range n {
				if res := c.step(in[t*d.width+channel]); res.onTime && res.preamble {
					events = append(events, event{tick: t, channel: channel, res: res})
				}
			}
			d.events[channel] = events
		}(ch)
	}

	wg.Wait()

	// Each per-channel list is already in tick order; a stable sort by tick
	// over the channel-ordered concatenation yields (tick, channel) order.
	merged := d.merged[:0]
	for _, events := range d.events {
		merged = append(merged, events...)
	}
	slices.SortStableFunc(merged, func(a, b event) int {
		return cmp.Compare(a.tick, b.tick)
	})
	d.merged = merged

	for _, e := range merged {
		d.handle(e.channel, e.res)
	}
}
