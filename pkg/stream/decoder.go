package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxEventBytes bounds a single event block when no limit is configured
const DefaultMaxEventBytes = 1 << 20

const readChunkSize = 4096

// ErrBlockTooLarge reports an event block that exceeded the size limit and
// was dropped. Decoding can continue after it.
var ErrBlockTooLarge = errors.New("event block exceeds size limit")

// Decoder splits a server-sent-event byte stream into event payloads. Lines
// end in \n, \r\n or \r; blocks end at a blank line. Bytes are buffered until
// a block is complete, so multi-byte characters split across reads are
// reassembled before the payload is handed out.
type Decoder struct {
	br       *bufio.Reader
	maxBytes int

	readErr error
	skipLF  bool

	line     []byte
	lineLong bool

	data     []byte
	hasData  bool
	oversize bool
}

// NewDecoder returns a decoder reading from r. maxBytes <= 0 selects
// DefaultMaxEventBytes.
func NewDecoder(r io.Reader, maxBytes int) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxEventBytes
	}
	return &Decoder{
		br:       bufio.NewReaderSize(r, readChunkSize),
		maxBytes: maxBytes,
	}
}

// Next returns the joined data lines of the next event block. It returns
// ErrBlockTooLarge for a dropped block, io.EOF at the end of the stream, or
// the underlying read error.
func (d *Decoder) Next() ([]byte, error) {
	for {
		line, err := d.nextLine()
		if err != nil {
			if d.hasData || d.oversize {
				// trailing block without a terminating blank line
				return d.flush()
			}
			return nil, err
		}

		if len(line) == 0 && !d.lineLong {
			if d.hasData || d.oversize {
				return d.flush()
			}
			continue
		}

		d.processLine(line)
	}
}

func (d *Decoder) flush() ([]byte, error) {
	defer func() {
		d.data = d.data[:0]
		d.hasData = false
		d.oversize = false
	}()

	if d.oversize {
		return nil, ErrBlockTooLarge
	}
	payload := make([]byte, len(d.data))
	copy(payload, d.data)
	return payload, nil
}

func (d *Decoder) processLine(line []byte) {
	if d.lineLong {
		d.lineLong = false
		d.markOversize()
		return
	}
	if d.oversize || line[0] == ':' {
		return
	}

	field, value := line, []byte(nil)
	if idx := bytes.IndexByte(line, ':'); idx >= 0 {
		field, value = line[:idx], line[idx+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	// event, id and retry carry nothing this protocol uses
	if string(field) != "data" {
		return
	}

	if d.hasData {
		d.data = append(d.data, '\n')
	}
	d.data = append(d.data, value...)
	d.hasData = true

	if len(d.data) > d.maxBytes {
		d.markOversize()
	}
}

func (d *Decoder) markOversize() {
	d.oversize = true
	d.data = d.data[:0]
	d.hasData = false
}

// nextLine returns the next line without its terminator. The returned slice
// is only valid until the following call. A read error is returned once the
// partial line before it was handed out.
func (d *Decoder) nextLine() ([]byte, error) {
	d.line = d.line[:0]
	if d.readErr != nil {
		return nil, d.readErr
	}

	for {
		b, err := d.br.ReadByte()
		if err != nil {
			d.readErr = err
			if len(d.line) > 0 || d.lineLong {
				return d.line, nil
			}
			return nil, err
		}

		if d.skipLF {
			d.skipLF = false
			if b == '\n' {
				continue
			}
		}

		switch b {
		case '\n':
			return d.line, nil
		case '\r':
			d.skipLF = true
			return d.line, nil
		default:
			if len(d.line) < d.maxBytes {
				d.line = append(d.line, b)
			} else {
				d.lineLong = true
			}
		}
	}
}
