package mqtt

import "sync/atomic"

// Publication is the topic and payload shared by an in-flight record and
// a pending transport write. Each owner holds one reference; the payload
// is dropped when the last one is released.
type Publication struct {
	Topic   string
	Payload []byte

	refs  atomic.Int32
	freed atomic.Bool
	// onFree is called once, after the last reference is released.
	onFree func(*Publication)
}

func newPublication(topic string, payload []byte) *Publication {
	p := &Publication{Topic: topic, Payload: payload}
	p.refs.Store(1)
	return p
}

// Retain adds a reference and returns p.
func (p *Publication) Retain() *Publication {
	if p.refs.Add(1) <= 1 {
		panic("mqtt: retain of released publication")
	}
	return p
}

// Release drops a reference. Releasing more often than retaining panics.
func (p *Publication) Release() {
	n := p.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("mqtt: publication released too many times")
	}

	if p.freed.CompareAndSwap(false, true) {
		p.Payload = nil
		if p.onFree != nil {
			p.onFree(p)
		}
	}
}

// Refs returns the current reference count.
func (p *Publication) Refs() int {
	return int(p.refs.Load())
}
