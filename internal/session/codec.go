package session

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Codec encodes sessions to bytes on disk.
type Codec interface {
	Name() string
	Ext() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"

	compressedExt = ".zst"
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }
func (jsonCodec) Ext() string  { return ".json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Core deterministic encoding keeps identical sessions byte-identical.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return CodecCBOR }
func (cborCodec) Ext() string  { return ".cbor" }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}

// CodecFor returns the codec registered under name. Empty selects JSON.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecCBOR:
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown session codec %q", name)
	}
}

var codecs = []Codec{jsonCodec{}, cborCodec{}}

// Shared zstd state; EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("session: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("session: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// fileFormat identifies a session file by its extension.
type fileFormat struct {
	codec      Codec
	compressed bool
}

func (f fileFormat) ext() string {
	if f.compressed {
		return f.codec.Ext() + compressedExt
	}
	return f.codec.Ext()
}

// formats lists every readable format, in lookup order.
func formats() []fileFormat {
	out := make([]fileFormat, 0, len(codecs)*2)
	for _, c := range codecs {
		out = append(out, fileFormat{codec: c}, fileFormat{codec: c, compressed: true})
	}
	return out
}

// parseFileName splits a session file name into its id and format.
func parseFileName(name string) (string, fileFormat, bool) {
	for _, f := range formats() {
		ext := f.ext()
		if strings.HasSuffix(name, ext) {
			id := strings.TrimSuffix(name, ext)
			if id == "" || strings.Contains(id, ".") {
				continue
			}
			return id, f, true
		}
	}
	return "", fileFormat{}, false
}

func (f fileFormat) encode(v any) ([]byte, error) {
	data, err := f.codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	if f.compressed {
		data = compress(data)
	}
	return data, nil
}

func (f fileFormat) decode(data []byte, v any) error {
	if f.compressed {
		var err error
		if data, err = decompress(data); err != nil {
			return err
		}
	}
	return f.codec.Unmarshal(data, v)
}
