package pack

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures blob compression.
type CompressionOptions struct {
	// Minimum archive size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024,
		Level:   2,
	}
}

// compressionManager pools zstd encoders and decoders across packs.
type compressionManager struct {
	opts CompressionOptions

	encoders sync.Pool
	decoders sync.Pool
}

// newCompressionManager builds the first encoder and decoder up front, so
// bad options fail here, and seeds the pools with them.
func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	cm := &compressionManager{opts: opts}

	enc, err := cm.newEncoder()
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder()
	if err != nil {
		enc.Close()
		return nil, err
	}
	cm.encoders.Put(enc)
	cm.decoders.Put(dec)
	return cm, nil
}

func (cm *compressionManager) newEncoder() (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cm.opts.Level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return enc, nil
}

func newDecoder() (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return dec, nil
}

func (cm *compressionManager) encoder() (*zstd.Encoder, error) {
	if enc, ok := cm.encoders.Get().(*zstd.Encoder); ok {
		return enc, nil
	}
	return cm.newEncoder()
}

func (cm *compressionManager) decoder() (*zstd.Decoder, error) {
	if dec, ok := cm.decoders.Get().(*zstd.Decoder); ok {
		return dec, nil
	}
	return newDecoder()
}

// compress leaves archives below MinSize as they are. A plain tar never
// starts with the zstd magic, so decompress can tell the two apart.
func (cm *compressionManager) compress(archive []byte) ([]byte, error) {
	if len(archive) < cm.opts.MinSize {
		return archive, nil
	}

	enc, err := cm.encoder()
	if err != nil {
		return nil, err
	}
	defer cm.encoders.Put(enc)

	return enc.EncodeAll(archive, make([]byte, 0, len(archive)/2)), nil
}

func (cm *compressionManager) decompress(blob []byte) ([]byte, error) {
	if len(blob) < len(zstdMagic) || !bytes.Equal(blob[:len(zstdMagic)], zstdMagic) {
		return blob, nil
	}

	dec, err := cm.decoder()
	if err != nil {
		return nil, err
	}
	defer cm.decoders.Put(dec)

	out, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing blob: %w", err)
	}
	return out, nil
}
