// Package showcase turns a captured run of gridlog records into a single
// shareable, URL-safe string: the records are packed into one JSON array,
// compressed, and base64-encoded, so a deadlock reproduction can be pasted
// into an issue or a chat message and decoded back into the exact event
// sequence that produced it.
package showcase

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"gridlock/gridlog"
)

// Codec selects the compression algorithm used when packing. Decode needs
// to be told which one Encode used; the codec is not self-describing in
// the encoded string.
type Codec string

const (
	// CodecZstd is the default: better compression ratio, used when size
	// matters more than raw throughput, which is the common case for a
	// one-off shareable link.
	CodecZstd Codec = "zstd"
	// CodecLZ4 trades compression ratio for speed; offered as the
	// alternative for callers packing large captures frequently, where
	// encode latency matters more than link length.
	CodecLZ4 Codec = "lz4"
)

// Pack serializes records into a single JSON array, the payload Encode
// then compresses.
func Pack(records []gridlog.Record) ([]byte, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("showcase: marshal records: %w", err)
	}
	return data, nil
}

// Encode compresses data with codec and returns a URL-safe base64 string.
func Encode(data []byte, codec Codec) (string, error) {
	compressed, err := compress(data, codec)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(compressed), nil
}

// Decode reverses Encode: base64-decodes s and decompresses it with codec.
func Decode(s string, codec Codec) ([]byte, error) {
	compressed, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("showcase: base64 decode: %w", err)
	}
	return decompress(compressed, codec)
}

// Unpack reverses Pack.
func Unpack(data []byte) ([]gridlog.Record, error) {
	var records []gridlog.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("showcase: unmarshal records: %w", err)
	}
	return records, nil
}

func compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("showcase: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("showcase: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	case CodecZstd, "":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("showcase: zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("showcase: unknown codec %q", codec)
	}
}

func decompress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("showcase: lz4 decompress: %w", err)
		}
		return out, nil
	case CodecZstd, "":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("showcase: zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("showcase: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("showcase: unknown codec %q", codec)
	}
}
