package stream

import (
	"bufio"
	"bytes"
	"io"
)

const maxFrameSize = 1 << 20

// Decoder reads events from a byte stream whose chunk boundaries need not
// line up with frame boundaries.
type Decoder struct {
	sc      *bufio.Scanner
	pending []Event
}

// NewDecoder returns a Decoder reading frames from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	sc.Split(splitFrames)
	return &Decoder{sc: sc}
}

// Next returns the next event, io.EOF at the end of the stream, or a
// *DecodeError for a malformed frame after which decoding may continue.
// Segments that carry no event are skipped.
func (d *Decoder) Next() (Event, error) {
	for len(d.pending) == 0 {
		if !d.sc.Scan() {
			if err := d.sc.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}
		seg := d.sc.Text()
		if len(seg) == 0 {
			continue
		}
		evs, err := ParseFrame(seg)
		if err != nil {
			return Event{}, err
		}
		d.pending = evs
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}

func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte(Delimiter)); i >= 0 {
		return i + len(Delimiter), data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
