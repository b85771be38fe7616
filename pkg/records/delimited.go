package records

import (
	"bufio"
	"io"
	"strings"
)

// Dialect describes a delimited text format.
type Dialect struct {
	// Delimiter separates fields. Default ','.
	Delimiter rune

	// Quote encloses fields containing delimiters or newlines. A doubled
	// quote inside a quoted field is a literal quote. Default '"'.
	Quote rune

	// Escape, when non-zero, makes the following rune literal.
	Escape rune
}

// DefaultDialect is RFC 4180 CSV.
func DefaultDialect() Dialect {
	return Dialect{Delimiter: ',', Quote: '"'}
}

// delimitedReader tokenizes delimited text one record at a time.
type delimitedReader struct {
	r       *bufio.Reader
	dialect Dialect
	line    int
	done    bool
}

func newDelimitedReader(r io.Reader, d Dialect) *delimitedReader {
	if d.Delimiter == 0 {
		d.Delimiter = ','
	}
	if d.Quote == 0 {
		d.Quote = '"'
	}
	if d.Escape == d.Quote {
		d.Escape = 0
	}
	return &delimitedReader{r: bufio.NewReader(r), dialect: d}
}

// Read returns the next record and the line it started on. Blank lines are
// skipped. An unterminated quote yields a *DecodeError and ends the input.
func (d *delimitedReader) Read() ([]string, int, error) {
	if d.done {
		return nil, 0, io.EOF
	}

	var (
		fields   []string
		field    strings.Builder
		inQuotes bool
		quoted   bool
		start    = d.line + 1
	)
	d.line++

	for {
		r, _, err := d.r.ReadRune()
		if err == io.EOF {
			d.done = true
			if inQuotes {
				return nil, start, &DecodeError{Line: start, Err: ErrUnterminatedQuote}
			}
			if len(fields) == 0 && field.Len() == 0 && !quoted {
				return nil, 0, io.EOF
			}
			return append(fields, field.String()), start, nil
		}
		if err != nil {
			return nil, start, err
		}

		if d.dialect.Escape != 0 && r == d.dialect.Escape {
			next, _, err := d.r.ReadRune()
			if err != nil {
				field.WriteRune(r)
				continue
			}
			if next == '\n' {
				d.line++
			}
			field.WriteRune(next)
			continue
		}

		if inQuotes {
			switch r {
			case d.dialect.Quote:
				next, _, err := d.r.ReadRune()
				if err == nil && next == d.dialect.Quote {
					field.WriteRune(d.dialect.Quote)
					continue
				}
				if err == nil {
					_ = d.r.UnreadRune()
				}
				inQuotes = false
			case '\n':
				d.line++
				field.WriteRune(r)
			default:
				field.WriteRune(r)
			}
			continue
		}

		switch {
		case r == d.dialect.Quote && field.Len() == 0 && !quoted:
			inQuotes = true
			quoted = true
		case r == d.dialect.Delimiter:
			fields = append(fields, field.String())
			field.Reset()
			quoted = false
		case r == '\n':
			if len(fields) == 0 && !quoted && strings.TrimRight(field.String(), "\r") == "" {
				field.Reset()
				start = d.line + 1
				d.line++
				continue
			}
			val := field.String()
			if !quoted {
				val = strings.TrimSuffix(val, "\r")
			}
			return append(fields, val), start, nil
		case r == '\r' && quoted:
			// CR after a closing quote belongs to the line ending.
		default:
			field.WriteRune(r)
		}
	}
}
