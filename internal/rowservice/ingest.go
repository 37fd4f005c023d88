package rowservice

// ingest.go turns an uploaded CSV stream into a header plus a RowReader the
// stores can consume without buffering the file.
//
// The input is cleaned on the fly: a UTF-8 byte order mark is dropped and
// invalid UTF-8 bytes are replaced with '?' so every stored cell is valid
// text in both SQLite and PostgreSQL.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidCSV is returned for uploads that cannot be parsed.
var ErrInvalidCSV = errors.New("invalid csv")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvInput wraps r with BOM removal and UTF-8 repair.
func csvInput(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return &utf8Repairer{src: br}
}

// utf8Repairer replaces invalid UTF-8 bytes with '?'. A multi-byte sequence
// split across reads of the source is carried over to the next read.
type utf8Repairer struct {
	src   io.Reader
	buf   []byte
	out   []byte // repaired bytes not yet returned
	carry []byte
	err   error
}

func (u *utf8Repairer) Read(p []byte) (int, error) {
	for len(u.out) == 0 {
		if u.err != nil {
			return 0, u.err
		}
		u.fill()
	}
	n := copy(p, u.out)
	u.out = u.out[n:]
	return n, nil
}

func (u *utf8Repairer) fill() {
	if u.buf == nil {
		u.buf = make([]byte, 32<<10)
	}
	n := copy(u.buf, u.carry)
	u.carry = u.carry[:0]

	m, err := u.src.Read(u.buf[n:])
	data := u.buf[:n+m]
	if err != nil {
		u.err = err
	} else if cut := partialRuneSuffix(data); cut > 0 {
		u.carry = append(u.carry, data[len(data)-cut:]...)
		data = data[:len(data)-cut]
	}
	u.out = repairUTF8(data)
}

// repairUTF8 rewrites data in place and returns the repaired prefix.
func repairUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	w := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			i++
			continue
		}
		copy(data[w:], data[i:i+size])
		w += size
		i += size
	}
	return data[:w]
}

// partialRuneSuffix returns how many trailing bytes of data start a UTF-8
// sequence that is not complete yet.
func partialRuneSuffix(data []byte) int {
	for back := 1; back < utf8.UTFMax && back <= len(data); back++ {
		b := data[len(data)-back]
		if b < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[len(data)-back:]) {
				return back
			}
			return 0
		}
	}
	return 0
}

// csvRows reads data records and checks their width against the header.
type csvRows struct {
	r     *csv.Reader
	width int
}

// openCSV reads the header of an upload and returns a RowReader over the
// remaining records. Short records are padded with NULLs by the stores;
// records wider than the header are rejected.
func openCSV(r io.Reader) ([]string, RowReader, error) {
	cr := csv.NewReader(csvInput(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
	}
	if err != nil {
		return nil, nil, csvError(err)
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
	}
	if len(names) == 1 && names[0] == "" {
		return nil, nil, fmt.Errorf("%w: header row is blank", ErrInvalidCSV)
	}

	return names, &csvRows{r: cr, width: len(names)}, nil
}

func (c *csvRows) Read() ([]string, error) {
	record, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, csvError(err)
	}
	if len(record) > c.width {
		line, _ := c.r.FieldPos(0)
		return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrInvalidCSV, line, len(record), c.width)
	}
	return record, nil
}

// csvError marks parse errors as ErrInvalidCSV and passes read errors (body
// too large, client gone) through unchanged.
func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %v", ErrInvalidCSV, pe)
	}
	return err
}
