package transfer

import (
	"bufio"
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
)

// FileFormat describes the shape of a data artifact: one record per
// line, fields wrapped in the enclosure, NULL spelled as the bare
// sentinel token. Binary column values are hex-encoded by the writer and
// decoded by the loader, so the file stays plain text.
type FileFormat struct {
	FieldDelimiter string
	FieldEnclosure string
	LineTerminator string
	NullToken      string
}

func DefaultFileFormat() FileFormat {
	return FileFormat{
		FieldDelimiter: ",",
		FieldEnclosure: `"`,
		LineTerminator: "\n",
		NullToken:      `\N`,
	}
}

func (f FileFormat) withDefaults() FileFormat {
	def := DefaultFileFormat()
	if f.FieldDelimiter == "" {
		f.FieldDelimiter = def.FieldDelimiter
	}
	if f.FieldEnclosure == "" {
		f.FieldEnclosure = def.FieldEnclosure
	}
	if f.LineTerminator == "" {
		f.LineTerminator = def.LineTerminator
	}
	if f.NullToken == "" {
		f.NullToken = def.NullToken
	}
	return f
}

func (f FileFormat) verify() error {
	if len(f.FieldEnclosure) != 1 {
		return errors.Newf("field enclosure must be a single character, got %q", f.FieldEnclosure)
	}
	if f.FieldDelimiter == "" || f.LineTerminator == "" || f.NullToken == "" {
		return errors.Newf("field delimiter, line terminator and null token must be non-empty")
	}
	return nil
}

// fileField is one encoded field: either NULL or a byte value.
type fileField struct {
	Null  bool
	Value []byte
}

type fileWriter struct {
	w      *bufio.Writer
	format FileFormat
}

func newFileWriter(w io.Writer, format FileFormat) (*fileWriter, error) {
	format = format.withDefaults()
	if err := format.verify(); err != nil {
		return nil, err
	}
	return &fileWriter{w: bufio.NewWriter(w), format: format}, nil
}

func (w *fileWriter) WriteRecord(fields []fileField) error {
	enc := w.format.FieldEnclosure[0]
	for i, f := range fields {
		if i > 0 {
			if _, err := w.w.WriteString(w.format.FieldDelimiter); err != nil {
				return err
			}
		}
		if f.Null {
			if _, err := w.w.WriteString(w.format.NullToken); err != nil {
				return err
			}
			continue
		}
		if err := w.w.WriteByte(enc); err != nil {
			return err
		}
		if err := w.writeEscaped(f.Value, enc); err != nil {
			return err
		}
		if err := w.w.WriteByte(enc); err != nil {
			return err
		}
	}
	_, err := w.w.WriteString(w.format.LineTerminator)
	return err
}

func (w *fileWriter) writeEscaped(value []byte, enc byte) error {
	for _, b := range value {
		switch b {
		case '\\':
			_, _ = w.w.WriteString(`\\`)
		case enc:
			_ = w.w.WriteByte('\\')
			_ = w.w.WriteByte(enc)
		case '\n':
			_, _ = w.w.WriteString(`\n`)
		case '\r':
			_, _ = w.w.WriteString(`\r`)
		default:
			if err := w.w.WriteByte(b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *fileWriter) Flush() error {
	return w.w.Flush()
}

type fileReader struct {
	r      *bufio.Reader
	format FileFormat
}

func newFileReader(r io.Reader, format FileFormat) (*fileReader, error) {
	format = format.withDefaults()
	if err := format.verify(); err != nil {
		return nil, err
	}
	return &fileReader{r: bufio.NewReader(r), format: format}, nil
}

// ReadRecord reads the next record, returning io.EOF at a clean end of
// input.
func (r *fileReader) ReadRecord() ([]fileField, error) {
	if _, err := r.r.Peek(1); err != nil {
		return nil, err
	}
	var fields []fileField
	for {
		f, err := r.readField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		sep, err := r.readSeparator()
		if err != nil {
			return nil, err
		}
		if sep != sepDelimiter {
			return fields, nil
		}
	}
}

type separator int

const (
	sepDelimiter separator = iota
	sepTerminator
	sepEOF
)

func (r *fileReader) readField() (fileField, error) {
	enc := r.format.FieldEnclosure[0]
	b, err := r.r.Peek(1)
	if err != nil {
		return fileField{}, err
	}
	if b[0] != enc {
		// Unenclosed token: only the NULL sentinel is valid here.
		token, err := r.readUntilSeparator()
		if err != nil {
			return fileField{}, err
		}
		if !bytes.Equal(token, []byte(r.format.NullToken)) {
			return fileField{}, errors.Newf("malformed field: unenclosed token %q", string(token))
		}
		return fileField{Null: true}, nil
	}
	_, _ = r.r.ReadByte()
	var value []byte
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			return fileField{}, errors.Wrap(err, "unterminated field")
		}
		if c == enc {
			return fileField{Value: value}, nil
		}
		if c != '\\' {
			value = append(value, c)
			continue
		}
		esc, err := r.r.ReadByte()
		if err != nil {
			return fileField{}, errors.Wrap(err, "dangling escape")
		}
		switch esc {
		case 'n':
			value = append(value, '\n')
		case 'r':
			value = append(value, '\r')
		default:
			value = append(value, esc)
		}
	}
}

// readUntilSeparator consumes bytes up to (not including) the next
// delimiter or terminator.
func (r *fileReader) readUntilSeparator() ([]byte, error) {
	var token []byte
	for {
		if r.peekMatches(r.format.FieldDelimiter) || r.peekMatches(r.format.LineTerminator) {
			return token, nil
		}
		c, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return token, nil
			}
			return nil, err
		}
		token = append(token, c)
	}
}

func (r *fileReader) readSeparator() (separator, error) {
	if r.consumeMatch(r.format.FieldDelimiter) {
		return sepDelimiter, nil
	}
	if r.consumeMatch(r.format.LineTerminator) {
		return sepTerminator, nil
	}
	if _, err := r.r.Peek(1); errors.Is(err, io.EOF) {
		return sepEOF, nil
	}
	b, _ := r.r.Peek(8)
	return 0, errors.Newf("malformed record: expected separator, found %q", string(b))
}

func (r *fileReader) peekMatches(s string) bool {
	b, err := r.r.Peek(len(s))
	return err == nil && string(b) == s
}

func (r *fileReader) consumeMatch(s string) bool {
	if !r.peekMatches(s) {
		return false
	}
	_, _ = r.r.Discard(len(s))
	return true
}
