package storage

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeader_WriteAndRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, FlagCompressed, 1234))
	assert.Len(t, buf.Bytes(), 16) // magic + version + flags + reserved + raw size

	header, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, MagicBytes, string(header.Magic[:]))
	assert.EqualValues(t, FormatVersion, header.Version)
	assert.Equal(t, FlagCompressed, header.Flags)
	assert.EqualValues(t, 1234, header.RawSize)
}

func TestFileHeader_InvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	invalidHeader := FileHeader{
		Magic:   [4]byte{'I', 'N', 'V', 'L'},
		Version: FormatVersion,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, invalidHeader))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file format")
}

func TestFileHeader_InvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	invalidHeader := FileHeader{
		Magic:   [4]byte{'G', 'D', 'B', 'R'},
		Version: 99,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, invalidHeader))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file version")
}

func TestSnapshotEncoding(t *testing.T) {
	tests := []struct {
		name       string
		records    int
		compressed bool
	}{
		{name: "empty collection", records: 0, compressed: false},
		{name: "repetitive payload compressed", records: 200, compressed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := &checkpointData{LSN: 42}
			cd := &collectionData{
				NS:      "db.c",
				Options: domain.CollectionOptions{Capped: true, CappedSize: 4096},
			}
			for i := 0; i < tt.records; i++ {
				cd.Records = append(cd.Records, recordData{ID: int64(i + 1), Raw: []byte(strings.Repeat("x", 64))})
			}
			data.Collections = append(data.Collections, cd)

			var buf bytes.Buffer
			require.NoError(t, EncodeSnapshot(&buf, data))
			if tt.compressed {
				assert.NotZero(t, buf.Bytes()[5]&FlagCompressed)
			}

			var decoded checkpointData
			require.NoError(t, DecodeSnapshot(&buf, &decoded))
			assert.EqualValues(t, 42, decoded.LSN)
			require.Len(t, decoded.Collections, 1)
			assert.Equal(t, cd.Options, decoded.Collections[0].Options)
			assert.Len(t, decoded.Collections[0].Records, tt.records)
		})
	}
}
