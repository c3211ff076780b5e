package domain

import "time"

// Frame is one transient media payload unit: a complete JPEG image on the
// media channel. The producing source owns the backing buffer; the consumer
// must call the source's Release exactly once per acquired frame, after which
// Data must not be touched again.
type Frame struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}
