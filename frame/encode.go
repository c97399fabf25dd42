package frame

import (
	"io"
	"strconv"
)

// Encode writes f to w in wire format. An Array is written as its header
// followed by each element encoded as a non-array literal: nested arrays
// are not supported on the write path, matching §4.1's "the wire encoder
// is not required to support nested arrays." Encode does not flush; callers
// that need every frame to arrive promptly (e.g. Connection.WriteFrame)
// flush themselves after a successful Encode.
func Encode(w io.Writer, f Frame) error {
	if f.Kind == KindArray {
		if err := writeHeader(w, '*', len(f.Items)); err != nil {
			return err
		}
		for _, item := range f.Items {
			if item.Kind == KindArray {
				return invalidf("nested arrays are not supported by the encoder")
			}
			if err := writeLiteral(w, item); err != nil {
				return err
			}
		}
		return nil
	}
	return writeLiteral(w, f)
}

func writeLiteral(w io.Writer, f Frame) error {
	switch f.Kind {
	case KindSimple:
		return writeLine(w, '+', []byte(f.Str))
	case KindError:
		return writeLine(w, '-', []byte(f.Str))
	case KindInteger:
		return writeUintHeader(w, ':', f.Int)
	case KindNull:
		_, err := w.Write(nullBytes)
		return err
	case KindBulk:
		if err := writeHeader(w, '$', len(f.Bulk)); err != nil {
			return err
		}
		if _, err := w.Write(f.Bulk); err != nil {
			return err
		}
		_, err := w.Write(crlf)
		return err
	default:
		return invalidf("cannot encode frame of kind %s as a literal", f.Kind)
	}
}

var (
	crlf      = []byte("\r\n")
	nullBytes = []byte("$-1\r\n")
)

func writeLine(w io.Writer, tag byte, body []byte) error {
	if _, err := w.Write([]byte{tag}); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}

func writeHeader(w io.Writer, tag byte, n int) error {
	if _, err := w.Write([]byte{tag}); err != nil {
		return err
	}
	if _, err := w.Write(strconv.AppendInt(nil, int64(n), 10)); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}

func writeUintHeader(w io.Writer, tag byte, n uint64) error {
	if _, err := w.Write([]byte{tag}); err != nil {
		return err
	}
	if _, err := w.Write(strconv.AppendUint(nil, n, 10)); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}
