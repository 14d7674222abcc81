package stream

import (
	"bytes"
	"regexp"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds how much undelimited data is buffered.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("notification frame exceeds maximum size")

// SplitFunc finds the first complete unit in data. It returns how many
// bytes to consume and the unit, or ok false when data holds no complete unit.
type SplitFunc func(data []byte) (advance int, unit []byte, ok bool)

// Frames accumulates chunks read from a stream and cuts them into units.
// Chunk boundaries carry no meaning.
type Frames struct {
	buf   []byte
	split SplitFunc
}

func NewFrames(split SplitFunc) *Frames {
	return &Frames{split: split}
}

// Write appends chunk and returns every unit it completed, in order.
func (f *Frames) Write(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)
	var units [][]byte
	for {
		advance, unit, ok := f.split(f.buf)
		if !ok {
			break
		}
		units = append(units, bytes.Clone(unit))
		f.buf = f.buf[advance:]
	}
	if len(f.buf) > MaxFrameSize {
		return units, ErrFrameTooLarge
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return units, nil
}

func (f *Frames) Buffered() int {
	return len(f.buf)
}

var envelopeEnd = regexp.MustCompile(`</(?:[A-Za-z_][\w.-]*:)?Envelope\s*>`)

// SplitEnvelopes cuts a GetStreamingEvents body into SOAP envelopes.
func SplitEnvelopes(data []byte) (int, []byte, bool) {
	loc := envelopeEnd.FindIndex(data)
	if loc == nil {
		return 0, nil, false
	}
	start := bytes.Index(data, []byte("<"))
	return loc[1], bytes.TrimSpace(data[start:loc[1]]), true
}

var scriptBlock = regexp.MustCompile(`(?s)<script>(.*?)</script>`)

// SplitScripts cuts an OWA notification body into the contents of its
// <script> blocks.
func SplitScripts(data []byte) (int, []byte, bool) {
	loc := scriptBlock.FindSubmatchIndex(data)
	if loc == nil {
		return 0, nil, false
	}
	return loc[1], data[loc[2]:loc[3]], true
}
