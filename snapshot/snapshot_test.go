package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/index/hnsw"
	"github.com/nearlab/proxima/quantization"
	"github.com/nearlab/proxima/vectorstore"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Config: Config{
			Dimension:      4,
			Metric:         distance.MetricEuclidean,
			Quantization:   quantization.Asymmetric,
			M:              16,
			EfConstruction: 100,
			EfSearch:       40,
			RandomSeed:     7,
		},
		Entries: []vectorstore.Entry{
			{
				ID: "a",
				Q: quantization.Quantized{
					Codes:     []int8{1, -2, 3, -4},
					Scale:     0.5,
					ZeroPoint: 0.25,
					Method:    quantization.Asymmetric,
				},
			},
			{
				ID: "b",
				Q: quantization.Quantized{
					Codes:     []int8{-128, 127, 0, 64},
					Scale:     1.5,
					ZeroPoint: -3,
					Method:    quantization.Asymmetric,
				},
			},
		},
		Nodes: []hnsw.NodeSnapshot{
			{ID: "a", Neighbors: [][]string{{"b"}, {"b"}}},
			{ID: "b", Neighbors: [][]string{{"a"}}},
		},
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
	}{
		{name: "none", codec: CodecNone},
		{name: "lz4", codec: CodecLZ4},
		{name: "zstd", codec: CodecZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := sampleSnapshot()

			var buf bytes.Buffer
			require.NoError(t, Write(&buf, want, tt.codec))

			got, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSnapshot_EmptyState(t *testing.T) {
	want := &Snapshot{
		Config: Config{Dimension: 8, Metric: distance.MetricCosine, M: 32, EfConstruction: 200, EfSearch: 50},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want, CodecZstd))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.Config, got.Config)
	assert.Empty(t, got.Entries)
	assert.Empty(t, got.Nodes)
}

func TestSnapshot_BadMagic(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a snapshot at all, truly")))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSnapshot(), CodecNone))

	data := buf.Bytes()
	data[len(data)-10] ^= 0xFF

	_, err := Read(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrChecksum)
}

func TestSnapshot_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSnapshot(), CodecNone))

	data := buf.Bytes()
	_, err := Read(bytes.NewReader(data[:len(data)-8]))
	require.Error(t, err)
}

func TestSnapshot_RejectsOverlongID(t *testing.T) {
	long := string(bytes.Repeat([]byte{'x'}, 1<<16))

	t.Run("entry id", func(t *testing.T) {
		s := sampleSnapshot()
		s.Entries[0].ID = long
		require.ErrorIs(t, Write(&bytes.Buffer{}, s, CodecNone), ErrIDTooLong)
	})

	t.Run("neighbor id", func(t *testing.T) {
		s := sampleSnapshot()
		s.Nodes[1].Neighbors[0][0] = long
		require.ErrorIs(t, Write(&bytes.Buffer{}, s, CodecNone), ErrIDTooLong)
	})
}

func TestSnapshot_UnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSnapshot(), CodecNone))

	data := buf.Bytes()
	// The checksum covers the header, so flipping the version byte fails
	// either the version or the checksum test.
	data[4] = 0xFF
	_, err := Read(bytes.NewReader(data))
	require.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{in: "none", want: CodecNone},
		{in: "", want: CodecNone},
		{in: "lz4", want: CodecLZ4},
		{in: "zstd", want: CodecZstd},
		{in: "gzip", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCodecString(t *testing.T) {
	assert.Equal(t, "none", CodecNone.String())
	assert.Equal(t, "lz4", CodecLZ4.String())
	assert.Equal(t, "zstd", CodecZstd.String())
}
