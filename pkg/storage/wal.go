package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Each WAL record is framed as a little-endian payload length, the CRC32 of the payload and
// the msgpack-encoded WALEntry.
const walFrameHeaderSize = 8

// walBufferLimit bounds how much a buffering durability level holds before writing.
const walBufferLimit = 64 * 1024

// NewWALEngine creates a new WAL engine
func NewWALEngine(walDir string, durabilityLevel DurabilityLevel, logger *slog.Logger) *WALEngine {
	return &WALEngine{
		walDir:          walDir,
		durabilityLevel: durabilityLevel,
		logger:          logger,
	}
}

// WriteEntry assigns the next LSN to entry and appends it. It returns the framed size.
func (w *WALEngine) WriteEntry(entry *WALEntry) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry.LSN = w.currentLSN + 1

	payload, err := msgpack.Marshal(entry)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode WAL entry")
	}
	frame := make([]byte, walFrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[walFrameHeaderSize:], payload)

	// Ensure WAL file is open
	if err := w.ensureWALFile(entry.LSN); err != nil {
		return 0, err
	}
	if err := w.appendFrame(frame); err != nil {
		return 0, err
	}
	w.currentLSN = entry.LSN
	return len(frame), nil
}

// appendFrame applies the durability level to one framed entry.
func (w *WALEngine) appendFrame(frame []byte) error {
	wf := w.walFile
	switch w.durabilityLevel {
	case DurabilityNone, DurabilityMemory:
		wf.buffered = append(wf.buffered, frame...)
		wf.Position += int64(len(frame))
		wf.Entries++
		if len(wf.buffered) >= walBufferLimit {
			return flushBuffered(wf)
		}
		return nil
	case DurabilityOS, DurabilityFull:
		if _, err := wf.File.Write(frame); err != nil {
			return errors.Wrap(err, "failed to write to WAL file")
		}
		wf.Position += int64(len(frame))
		wf.Entries++
		if w.durabilityLevel == DurabilityFull {
			return errors.Wrap(wf.File.Sync(), "failed to sync WAL file")
		}
		return nil
	}
	return errors.Newf("unknown durability level: %d", w.durabilityLevel)
}

func flushBuffered(wf *WALFile) error {
	if len(wf.buffered) == 0 {
		return nil
	}
	if _, err := wf.File.Write(wf.buffered); err != nil {
		return errors.Wrap(err, "failed to flush WAL buffer")
	}
	wf.buffered = wf.buffered[:0]
	return nil
}

// Sync writes anything buffered and fsyncs the current file.
func (w *WALEngine) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.walFile == nil {
		return nil
	}
	if err := flushBuffered(w.walFile); err != nil {
		return err
	}
	return errors.Wrap(w.walFile.File.Sync(), "failed to sync WAL file")
}

// CurrentLSN returns the LSN of the last entry written or recovered.
func (w *WALEngine) CurrentLSN() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// SetCurrentLSN continues numbering after recovery.
func (w *WALEngine) SetCurrentLSN(lsn int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentLSN = lsn
}

// Size returns the number of bytes written to the current file.
func (w *WALEngine) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.walFile == nil {
		return 0
	}
	return w.walFile.Position
}

// Rotate syncs and closes the current file. The next write opens a new one.
func (w *WALEngine) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Close closes the WAL engine
func (w *WALEngine) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *WALEngine) closeLocked() error {
	if w.walFile == nil {
		return nil
	}
	wf := w.walFile
	w.walFile = nil
	err := flushBuffered(wf)
	if err == nil {
		err = errors.Wrap(wf.File.Sync(), "failed to sync WAL file")
	}
	return errors.CombineErrors(err, wf.File.Close())
}

// WALFiles lists the log files oldest first.
func (w *WALEngine) WALFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(w.walDir, "wal_*.log"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list WAL files")
	}
	sort.Strings(files)
	return files, nil
}

// RemoveFilesExceptCurrent deletes every log file except the one being written.
func (w *WALEngine) RemoveFilesExceptCurrent() error {
	files, err := w.WALFiles()
	if err != nil {
		return err
	}
	w.mu.Lock()
	current := ""
	if w.walFile != nil {
		current = w.walFile.Path
	}
	w.mu.Unlock()

	for _, file := range files {
		if file == current {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to delete WAL file %s", file)
		}
		w.logger.Debug("deleted WAL file", "file", filepath.Base(file))
	}
	return nil
}

// ReadEntries reads every intact entry of a file. A torn or corrupt tail, left by a crash
// mid-write, is cut off so later appends start from a clean frame boundary.
func (w *WALEngine) ReadEntries(filename string) ([]*WALEntry, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read WAL file")
	}

	var (
		entries []*WALEntry
		offset  int
	)
	r := bytes.NewReader(data)
	for {
		var header [walFrameHeaderSize]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		size := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		if int64(size) > int64(r.Len()) {
			break
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != sum {
			break
		}
		var entry WALEntry
		if err := msgpack.Unmarshal(payload, &entry); err != nil {
			break
		}
		entries = append(entries, &entry)
		offset += walFrameHeaderSize + int(size)
	}

	if offset < len(data) {
		w.logger.Warn("truncating torn WAL tail",
			"file", filepath.Base(filename), "offset", offset, "discarded_bytes", len(data)-offset)
		if err := os.Truncate(filename, int64(offset)); err != nil {
			return nil, errors.Wrap(err, "failed to truncate WAL file")
		}
	}
	return entries, nil
}

// Private methods

func (w *WALEngine) ensureWALFile(firstLSN int64) error {
	if w.walFile != nil {
		return nil
	}

	filename := fmt.Sprintf("wal_%020d.log", firstLSN)
	path := filepath.Join(w.walDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create WAL file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.Wrap(err, "failed to stat WAL file")
	}

	w.walFile = &WALFile{
		Path:     path,
		File:     file,
		Position: info.Size(),
		FirstLSN: firstLSN,
	}
	return nil
}
