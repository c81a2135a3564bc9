// Package serializer persists FSM documents in a self-describing binary
// tag-length-value form. The sole compatibility contract is a lossless
// round-trip with the in-memory document model; the version token is
// matched exactly on load.
package serializer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/agentflare-ai/go-scxml/expr"
)

// ProtocolVersion is the version token written at the head of every
// stream. A mismatch fails the load before any session is created.
const ProtocolVersion = "fsmGo1.0"

// Value type tags.
const (
	tagInt    byte = 0x01
	tagString byte = 0x02
	tagBool   byte = 0x03
)

// protocolWriter encodes primitive values as tag-length-value records.
type protocolWriter struct {
	w   *bufio.Writer
	err error
}

func newProtocolWriter(w io.Writer) *protocolWriter {
	return &protocolWriter{w: bufio.NewWriter(w)}
}

func (pw *protocolWriter) writeVersion() {
	if pw.err != nil {
		return
	}
	_, pw.err = pw.w.WriteString(ProtocolVersion)
}

func (pw *protocolWriter) writeByte(b byte) {
	if pw.err != nil {
		return
	}
	pw.err = pw.w.WriteByte(b)
}

func (pw *protocolWriter) writeInt(v int64) {
	pw.writeByte(tagInt)
	if pw.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, pw.err = pw.w.Write(buf[:n])
}

func (pw *protocolWriter) writeString(s string) {
	pw.writeByte(tagString)
	if pw.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	if _, pw.err = pw.w.Write(buf[:n]); pw.err != nil {
		return
	}
	_, pw.err = pw.w.WriteString(s)
}

func (pw *protocolWriter) writeBool(v bool) {
	pw.writeByte(tagBool)
	if v {
		pw.writeByte(1)
	} else {
		pw.writeByte(0)
	}
}

func (pw *protocolWriter) writeSource(s expr.Source) {
	pw.writeString(s.Code)
}

func (pw *protocolWriter) flush() error {
	if pw.err != nil {
		return pw.err
	}
	return pw.w.Flush()
}

// protocolReader decodes the records written by protocolWriter.
type protocolReader struct {
	r   *bufio.Reader
	err error
}

func newProtocolReader(r io.Reader) *protocolReader {
	return &protocolReader{r: bufio.NewReader(r)}
}

func (pr *protocolReader) readVersion() error {
	buf := make([]byte, len(ProtocolVersion))
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return fmt.Errorf("cannot read protocol version: %w", err)
	}
	if string(buf) != ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: got %q, want %q", buf, ProtocolVersion)
	}
	return nil
}

func (pr *protocolReader) fail(err error) {
	if pr.err == nil {
		pr.err = err
	}
}

func (pr *protocolReader) expectTag(want byte) bool {
	if pr.err != nil {
		return false
	}
	b, err := pr.r.ReadByte()
	if err != nil {
		pr.fail(err)
		return false
	}
	if b != want {
		pr.fail(fmt.Errorf("unexpected type tag 0x%02x, want 0x%02x", b, want))
		return false
	}
	return true
}

func (pr *protocolReader) readInt() int64 {
	if !pr.expectTag(tagInt) {
		return 0
	}
	v, err := binary.ReadVarint(pr.r)
	if err != nil {
		pr.fail(err)
		return 0
	}
	return v
}

func (pr *protocolReader) readString() string {
	if !pr.expectTag(tagString) {
		return ""
	}
	n, err := binary.ReadUvarint(pr.r)
	if err != nil {
		pr.fail(err)
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		pr.fail(err)
		return ""
	}
	return string(buf)
}

func (pr *protocolReader) readBool() bool {
	if !pr.expectTag(tagBool) {
		return false
	}
	b, err := pr.r.ReadByte()
	if err != nil {
		pr.fail(err)
		return false
	}
	return b != 0
}

func (pr *protocolReader) readSource() expr.Source {
	code := pr.readString()
	if code == "" {
		return expr.Source{}
	}
	return expr.NewSource(code)
}
