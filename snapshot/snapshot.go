// Package snapshot serializes engine state into a versioned binary stream:
// a fixed header, a compressed body holding the quantized vector table and
// the graph adjacency, and a CRC-32C footer. Full-precision vectors are
// never written.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/index/hnsw"
	"github.com/nearlab/proxima/quantization"
	"github.com/nearlab/proxima/vectorstore"
)

const (
	formatVersion = 1
	headerSize    = 4 + 2 + 1 + 8 + 8 // magic, version, codec, rawLen, bodyLen
	footerSize    = 4
)

var magic = [4]byte{'P', 'X', 'S', 'N'}

var (
	// ErrBadMagic is returned when the stream does not start with the
	// snapshot magic.
	ErrBadMagic = errors.New("snapshot: bad magic")

	// ErrUnsupportedVersion is returned for snapshots written by a newer
	// format revision.
	ErrUnsupportedVersion = errors.New("snapshot: unsupported format version")

	// ErrChecksum is returned when the CRC-32C footer does not match.
	ErrChecksum = errors.New("snapshot: checksum mismatch")

	// ErrCorrupt is returned when the body cannot be decoded.
	ErrCorrupt = errors.New("snapshot: corrupt body")

	// ErrIDTooLong is returned when an id does not fit the uint16 length
	// prefix of the wire format.
	ErrIDTooLong = errors.New("snapshot: id exceeds 65535 bytes")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config is the engine configuration embedded in every snapshot, so an
// import can verify compatibility before touching state.
type Config struct {
	Dimension      int
	Metric         distance.Metric
	Quantization   quantization.Method
	M              int
	EfConstruction int
	EfSearch       int
	RandomSeed     int64
}

// Snapshot is the decoded form of a serialized engine.
type Snapshot struct {
	Config  Config
	Entries []vectorstore.Entry
	Nodes   []hnsw.NodeSnapshot
}

// Write encodes the snapshot, compresses the body with the codec and
// writes header, body and checksum footer to w.
func Write(w io.Writer, s *Snapshot, codec Codec) error {
	body, err := encodeBody(s)
	if err != nil {
		return err
	}

	compressed, err := compress(body, codec)
	if err != nil {
		return err
	}
	if compressed == nil {
		// Incompressible under LZ4; fall back to storing raw.
		codec = CodecNone
		compressed = body
	}

	buf := make([]byte, 0, headerSize+len(compressed)+footerSize)
	buf = append(buf, magic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, formatVersion)
	buf = append(buf, byte(codec))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(body)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(compressed)))
	buf = append(buf, compressed...)

	crc := crc32.Checksum(buf, castagnoli)
	buf = binary.LittleEndian.AppendUint32(buf, crc)

	_, err = w.Write(buf)
	return err
}

// Read consumes a serialized snapshot from r, verifying magic, version and
// checksum before decoding.
func Read(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if len(data) < headerSize+footerSize {
		return nil, ErrBadMagic
	}
	if [4]byte(data[:4]) != magic {
		return nil, ErrBadMagic
	}

	version := binary.LittleEndian.Uint16(data[4:6])
	if version != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	codec := Codec(data[6])
	rawLen := binary.LittleEndian.Uint64(data[7:15])
	bodyLen := binary.LittleEndian.Uint64(data[15:23])

	if uint64(len(data)) != headerSize+bodyLen+footerSize {
		return nil, fmt.Errorf("%w: truncated stream", ErrCorrupt)
	}

	payload := data[:len(data)-footerSize]
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-footerSize:])
	if crc32.Checksum(payload, castagnoli) != wantCRC {
		return nil, ErrChecksum
	}

	body, err := decompress(data[headerSize:len(data)-footerSize], int(rawLen), codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return decodeBody(body)
}

func encodeBody(s *Snapshot) ([]byte, error) {
	if err := checkIDs(s); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 64)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Config.Dimension))
	buf = append(buf, byte(s.Config.Metric), byte(s.Config.Quantization))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Config.M))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Config.EfConstruction))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Config.EfSearch))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Config.RandomSeed))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Entries)))
	for _, e := range s.Entries {
		buf = appendString(buf, e.ID)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.Q.Scale))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.Q.ZeroPoint))
		buf = append(buf, byte(e.Q.Method))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Q.Codes)))
		for _, c := range e.Q.Codes {
			buf = append(buf, byte(c))
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Nodes)))
	for _, n := range s.Nodes {
		buf = appendString(buf, n.ID)
		buf = append(buf, byte(len(n.Neighbors)))
		for _, level := range n.Neighbors {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(level)))
			for _, id := range level {
				buf = appendString(buf, id)
			}
		}
	}

	return buf, nil
}

// checkIDs rejects ids whose length would silently truncate under the
// uint16 prefix appendString writes.
func checkIDs(s *Snapshot) error {
	for _, e := range s.Entries {
		if len(e.ID) > math.MaxUint16 {
			return fmt.Errorf("%w: entry id is %d bytes", ErrIDTooLong, len(e.ID))
		}
	}
	for _, n := range s.Nodes {
		if len(n.ID) > math.MaxUint16 {
			return fmt.Errorf("%w: node id is %d bytes", ErrIDTooLong, len(n.ID))
		}
		for _, level := range n.Neighbors {
			for _, id := range level {
				if len(id) > math.MaxUint16 {
					return fmt.Errorf("%w: neighbor id is %d bytes", ErrIDTooLong, len(id))
				}
			}
		}
	}
	return nil
}

func decodeBody(body []byte) (*Snapshot, error) {
	d := &decoder{buf: body}

	var s Snapshot
	s.Config.Dimension = int(d.uint32())
	s.Config.Metric = distance.Metric(d.byte())
	s.Config.Quantization = quantization.Method(d.byte())
	s.Config.M = int(d.uint32())
	s.Config.EfConstruction = int(d.uint32())
	s.Config.EfSearch = int(d.uint32())
	s.Config.RandomSeed = int64(d.uint64())

	entryCount := int(d.uint32())
	if d.err == nil && entryCount > d.remaining() {
		return nil, fmt.Errorf("%w: entry count %d exceeds stream", ErrCorrupt, entryCount)
	}
	s.Entries = make([]vectorstore.Entry, 0, entryCount)
	for i := 0; i < entryCount && d.err == nil; i++ {
		var e vectorstore.Entry
		e.ID = d.string()
		e.Q.Scale = math.Float32frombits(d.uint32())
		e.Q.ZeroPoint = math.Float32frombits(d.uint32())
		e.Q.Method = quantization.Method(d.byte())

		codeLen := int(d.uint32())
		if d.err == nil && codeLen > d.remaining() {
			return nil, fmt.Errorf("%w: code length %d exceeds stream", ErrCorrupt, codeLen)
		}
		e.Q.Codes = make([]int8, codeLen)
		for j := range e.Q.Codes {
			e.Q.Codes[j] = int8(d.byte())
		}
		s.Entries = append(s.Entries, e)
	}

	nodeCount := int(d.uint32())
	if d.err == nil && nodeCount > d.remaining() {
		return nil, fmt.Errorf("%w: node count %d exceeds stream", ErrCorrupt, nodeCount)
	}
	s.Nodes = make([]hnsw.NodeSnapshot, 0, nodeCount)
	for i := 0; i < nodeCount && d.err == nil; i++ {
		var n hnsw.NodeSnapshot
		n.ID = d.string()

		levels := int(d.byte())
		n.Neighbors = make([][]string, levels)
		for l := 0; l < levels && d.err == nil; l++ {
			count := int(d.uint32())
			if d.err == nil && count > d.remaining() {
				return nil, fmt.Errorf("%w: neighbor count %d exceeds stream", ErrCorrupt, count)
			}
			n.Neighbors[l] = make([]string, 0, count)
			for j := 0; j < count && d.err == nil; j++ {
				n.Neighbors[l] = append(n.Neighbors[l], d.string())
			}
		}
		s.Nodes = append(s.Nodes, n)
	}

	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, d.err)
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, d.remaining())
	}

	return &s, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// decoder is a cursor over the body with sticky error handling.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) fail() {
	if d.err == nil {
		d.err = errors.New("unexpected end of body")
	}
}

func (d *decoder) byte() byte {
	if d.err != nil || d.remaining() < 1 {
		d.fail()
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

func (d *decoder) uint32() uint32 {
	if d.err != nil || d.remaining() < 4 {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil || d.remaining() < 8 {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) string() string {
	if d.err != nil || d.remaining() < 2 {
		d.fail()
		return ""
	}
	n := int(binary.LittleEndian.Uint16(d.buf[d.off:]))
	d.off += 2
	if d.remaining() < n {
		d.fail()
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}
