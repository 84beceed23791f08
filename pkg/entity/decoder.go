package entity

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// maxLineSize bounds one JSON-lines entity; city objects with fine LODs get large.
const maxLineSize = 64 << 20

// Decoder reads entities from a JSON-lines dump, one entity per line.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 1<<20), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next entity or io.EOF. Blank lines are skipped.
func (d *Decoder) Next() (*Entity, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var e Entity
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", d.line, err)
		}
		if e.Geometry == nil {
			e.Geometry = &GeometryStore{}
		}
		return &e, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", d.line+1, err)
	}
	return nil, io.EOF
}

// Stream decodes every entity from r into out. It stops early when ctx is
// done and never closes out.
func Stream(ctx context.Context, r io.Reader, out chan<- *Parcel) (int, error) {
	dec := NewDecoder(r)
	n := 0
	for {
		e, err := dec.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		select {
		case out <- &Parcel{Entity: e}:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}
