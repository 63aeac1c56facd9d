package snapshot

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the snapshot body compression algorithm.
type Codec uint8

const (
	// CodecNone stores the body uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast).
	CodecLZ4 Codec = 1
	// CodecZstd uses Zstandard (better ratio).
	CodecZstd Codec = 2
)

// String implements the Stringer interface.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec converts a configuration string into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none", "":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("unknown snapshot codec %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compress encodes body with the codec. CodecNone returns the input.
func compress(body []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return body, nil

	case CodecLZ4:
		bound := lz4.CompressBlockBound(len(body))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(body, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible input is stored raw under CodecNone
			// semantics; the caller records the actual codec used.
			return nil, nil
		}
		return dst[:n], nil

	case CodecZstd:
		enc := getZstdEncoder()
		defer putZstdEncoder(enc)
		return enc.EncodeAll(body, nil), nil

	default:
		return nil, fmt.Errorf("unknown snapshot codec %d", codec)
	}
}

// decompress decodes body into its original uncompressedLen bytes.
func decompress(body []byte, uncompressedLen int, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return body, nil

	case CodecLZ4:
		dst := make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedLen {
			return nil, fmt.Errorf("lz4 decompress: size mismatch, want %d got %d", uncompressedLen, n)
		}
		return dst, nil

	case CodecZstd:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		dst, err := dec.DecodeAll(body, make([]byte, 0, uncompressedLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(dst) != uncompressedLen {
			return nil, fmt.Errorf("zstd decompress: size mismatch, want %d got %d", uncompressedLen, len(dst))
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("unknown snapshot codec %d", codec)
	}
}
