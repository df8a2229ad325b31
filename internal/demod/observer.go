package demod

import "github.com/xiaogaogaoxiao/anyscatter/internal/frame"

// Observer receives receiver events. Calls are made from the goroutine that
// called Work, in tick order then channel order.
type Observer interface {
	// PreambleDetected fires when the register holds a normal or inverted
	// preamble at a decision instant.
	PreambleDetected(channel int, flipped bool)

	// FrameRejected fires when a preamble was found but the CRC failed.
	FrameRejected(channel int)

	// FrameAccepted fires for every valid frame, before it is published.
	FrameAccepted(rec frame.Record)

	// PublishFailed fires when the publisher returned an error.
	PublishFailed(channel int, err error)

	// TicksProcessed fires once per Work call.
	TicksProcessed(n int)
}

type nopObserver struct{}

func (nopObserver) PreambleDetected(int, bool) {}
func (nopObserver) FrameRejected(int)          {}
func (nopObserver) FrameAccepted(frame.Record) {}
func (nopObserver) PublishFailed(int, error)   {}
func (nopObserver) TicksProcessed(int)         {}

// Observers fans events out to several observers.
type Observers []Observer

func (os Observers) PreambleDetected(channel int, flipped bool) {
	for _, o := range os {
		o.PreambleDetected(channel, flipped)
	}
}

func (os Observers) FrameRejected(channel int) {
	for _, o := range os {
		o.FrameRejected(channel)
	}
}

func (os Observers) FrameAccepted(rec frame.Record) {
	for _, o := range os {
		o.FrameAccepted(rec)
	}
}

func (os Observers) PublishFailed(channel int, err error) {
	for _, o := range os {
		o.PublishFailed(channel, err)
	}
}

func (os Observers) TicksProcessed(n int) {
	for _, o := range os {
		o.TicksProcessed(n)
	}
}
