package storage

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Magic bytes to identify a checkpoint file
	MagicBytes = "GDBR"
	// Current version
	FormatVersion = 2
	// File extension for checkpoint files
	FileExtension = ".ckpt"
)

// FlagCompressed marks a payload stored as an lz4 block.
const FlagCompressed uint8 = 1 << 0

// FileHeader represents the header of a checkpoint file
type FileHeader struct {
	Magic    [4]byte // "GDBR"
	Version  uint8   // Format version
	Flags    uint8
	Reserved [2]byte
	RawSize  uint64 // payload size before compression
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer, flags uint8, rawSize int) error {
	header := FileHeader{
		Magic:   [4]byte{'G', 'D', 'B', 'R'},
		Version: FormatVersion,
		Flags:   flags,
		RawSize: uint64(rawSize),
	}
	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	// Validate magic bytes
	if string(header.Magic[:]) != MagicBytes {
		return nil, errors.Newf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}

	// Validate version
	if header.Version != FormatVersion {
		return nil, errors.Newf("unsupported file version: %d", header.Version)
	}
	return &header, nil
}

// EncodeSnapshot writes header plus payload: msgpack, lz4-compressed unless that would not
// make it smaller.
func EncodeSnapshot(w io.Writer, v any) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode MessagePack")
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(raw, compressed, hashTable[:])
	if err != nil {
		return errors.Wrap(err, "failed to compress data")
	}

	flags, payload := FlagCompressed, compressed[:n]
	if n == 0 || n >= len(raw) {
		flags, payload = 0, raw
	}
	if err := WriteHeader(w, flags, len(raw)); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "failed to write payload")
	}
	return nil
}

// DecodeSnapshot reads what EncodeSnapshot wrote into v.
func DecodeSnapshot(r io.Reader, v any) error {
	header, err := ReadHeader(r)
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "failed to read payload")
	}

	raw := payload
	if header.Flags&FlagCompressed != 0 {
		raw = make([]byte, header.RawSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return errors.Wrap(err, "failed to decompress data")
		}
		if uint64(n) != header.RawSize {
			return errors.Newf("decompressed %d bytes, header says %d", n, header.RawSize)
		}
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "failed to decode MessagePack")
	}
	return nil
}
