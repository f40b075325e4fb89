// log.go implements the append-only, mmap-backed durable log that backs a
// single topic of the local DurableActionQueue.
//
// File format:
//
//	Header (64 bytes):
//	  - Magic: "S3JQ" (4 bytes)
//	  - Version: uint16 (2 bytes)
//	  - Entry count: uint32 (4 bytes)
//	  - Next write offset: uint64 (8 bytes)
//	  - Total payload bytes: uint64 (8 bytes)
//	  - Reserved: 38 bytes
//
//	Entries (variable):
//	  - Record type: uint8 (1 byte) - 0=put, 1=complete
//	  - Task ID: uint64 (8 bytes)
//	  - [put only] Kind: uint8 (1 byte)
//	  - [put only] RunningBytes: uint64 (8 bytes)
//	  - [put only] PartIndex: uint64 (8 bytes)
//	  - [put only] Directory length: uint16 (2 bytes) + Directory bytes
//	  - [put only] EntryCount: uint64 (8 bytes)
//	  - [put only] Data length: uint32 (4 bytes) + Data bytes
//
// Recovery replays the log and returns every put whose task ID was never
// later marked complete, in original order: a later complete record
// filters out its matching earlier put.
package queue

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	logMagic        = "S3JQ"
	logVersion      = uint16(1)
	logHeaderSize   = 64
	logInitialSize  = 4 * 1024 * 1024 // 4MB initial slab size
	logGrowthFactor = 2

	recordPut      uint8 = 0
	recordComplete uint8 = 1
)

type logHeader struct {
	Magic         [4]byte
	Version       uint16
	EntryCount    uint32
	NextOffset    uint64
	TotalDataSize uint64
}

// durableLog is a single mmap-backed append-only file holding Put and
// Complete records for one topic.
type durableLog struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	size   uint64
	header *logHeader
	dirty  bool
	closed bool
}

// openDurableLog opens (or creates) the log file for a topic under dir.
func openDurableLog(dir, topic string) (*durableLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	l := &durableLog{path: filepath.Join(dir, sanitizeTopic(topic)+".queue")}
	if err := l.init(); err != nil {
		return nil, fmt.Errorf("init durable log %s: %w", topic, err)
	}
	return l, nil
}

func sanitizeTopic(topic string) string {
	buf := make([]byte, 0, len(topic))
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			buf = append(buf, byte(r))
		default:
			buf = append(buf, '_')
		}
	}
	if len(buf) == 0 {
		return "default"
	}
	return string(buf)
}

func (l *durableLog) init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); err == nil {
		return l.openExisting()
	}
	return l.createNew()
}

func (l *durableLog) createNew() error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if err := f.Truncate(int64(logInitialSize)); err != nil {
		f.Close()
		return fmt.Errorf("truncate file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, logInitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}

	l.file = f
	l.data = data
	l.size = logInitialSize
	l.header = &logHeader{Version: logVersion, NextOffset: logHeaderSize}
	copy(l.header.Magic[:], logMagic)
	l.writeHeader()

	return nil
}

func (l *durableLog) openExisting() error {
	f, err := os.OpenFile(l.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat file: %w", err)
	}

	size := uint64(info.Size())
	if size < logHeaderSize {
		f.Close()
		return ErrCorrupted
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}

	l.file = f
	l.data = data
	l.size = size

	header := &logHeader{}
	copy(header.Magic[:], data[0:4])
	header.Version = binary.LittleEndian.Uint16(data[4:6])
	header.EntryCount = binary.LittleEndian.Uint32(data[6:10])
	header.NextOffset = binary.LittleEndian.Uint64(data[10:18])
	header.TotalDataSize = binary.LittleEndian.Uint64(data[18:26])

	if string(header.Magic[:]) != logMagic {
		l.closeLocked()
		return ErrCorrupted
	}
	if header.Version != logVersion {
		l.closeLocked()
		return ErrVersionMismatch
	}

	l.header = header
	return nil
}

func (l *durableLog) writeHeader() {
	copy(l.data[0:4], l.header.Magic[:])
	binary.LittleEndian.PutUint16(l.data[4:6], l.header.Version)
	binary.LittleEndian.PutUint32(l.data[6:10], l.header.EntryCount)
	binary.LittleEndian.PutUint64(l.data[10:18], l.header.NextOffset)
	binary.LittleEndian.PutUint64(l.data[18:26], l.header.TotalDataSize)
}

func (l *durableLog) ensureSpace(needed uint64) error {
	if l.header.NextOffset+needed <= l.size {
		return nil
	}

	newSize := l.size * logGrowthFactor
	for l.header.NextOffset+needed > newSize {
		newSize *= logGrowthFactor
	}

	if err := unix.Munmap(l.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	if err := l.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	data, err := unix.Mmap(int(l.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}

	l.data = data
	l.size = newSize
	return nil
}

// appendPut persists a Put record for id/action. Caller assigns id.
func (l *durableLog) appendPut(id uint64, action Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	dirBytes := []byte(action.Position.Directory)
	size := 1 + 8 + 1 + 8 + 8 + 2 + len(dirBytes) + 8 + 4 + len(action.Bytes)
	if err := l.ensureSpace(uint64(size)); err != nil {
		return err
	}

	offset := l.header.NextOffset
	l.data[offset] = recordPut
	offset++
	binary.LittleEndian.PutUint64(l.data[offset:], id)
	offset += 8
	l.data[offset] = uint8(action.Kind)
	offset++
	binary.LittleEndian.PutUint64(l.data[offset:], action.Position.RunningBytes)
	offset += 8
	binary.LittleEndian.PutUint64(l.data[offset:], action.Position.PartIndex)
	offset += 8
	binary.LittleEndian.PutUint16(l.data[offset:], uint16(len(dirBytes)))
	offset += 2
	copy(l.data[offset:], dirBytes)
	offset += uint64(len(dirBytes))
	binary.LittleEndian.PutUint64(l.data[offset:], action.EntryCount)
	offset += 8
	binary.LittleEndian.PutUint32(l.data[offset:], uint32(len(action.Bytes)))
	offset += 4
	copy(l.data[offset:], action.Bytes)
	offset += uint64(len(action.Bytes))

	l.header.NextOffset = offset
	l.header.EntryCount++
	l.header.TotalDataSize += uint64(len(action.Bytes))
	l.writeHeader()
	l.dirty = true

	return nil
}

// appendComplete records that id is done; recovery will skip it.
func (l *durableLog) appendComplete(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	size := uint64(1 + 8)
	if err := l.ensureSpace(size); err != nil {
		return err
	}

	offset := l.header.NextOffset
	l.data[offset] = recordComplete
	offset++
	binary.LittleEndian.PutUint64(l.data[offset:], id)
	offset += 8

	l.header.NextOffset = offset
	l.header.EntryCount++
	l.writeHeader()
	l.dirty = true

	return nil
}

// recoveredPut is one surviving (never completed) put record.
type recoveredPut struct {
	id     uint64
	action Action
	// corrupt is set when the record's payload failed to deserialize;
	// the action field is the Skip sentinel in that case.
	corrupt bool
}

// recover replays the log, returning puts not later marked complete, and
// the id counter's high-water mark so new ids continue from there.
func (l *durableLog) recover() ([]recoveredPut, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, 0, ErrClosed
	}

	var puts []recoveredPut
	completed := make(map[uint64]bool)
	var maxID uint64

	offset := uint64(logHeaderSize)
	end := l.header.NextOffset

	for offset < end {
		if offset+1 > l.size {
			return nil, 0, ErrCorrupted
		}
		recType := l.data[offset]
		offset++

		switch recType {
		case recordPut:
			id, action, newOffset, err := l.readPut(offset)
			if err != nil {
				return nil, 0, err
			}
			if id > maxID {
				maxID = id
			}
			// A kind tag outside the known variants cannot be
			// interpreted; keep the record, marked corrupt, so its task
			// is handed out and can be completed (dropped).
			corrupt := action.Kind > KindSkip
			if corrupt {
				action = Action{Kind: KindSkip}
			}
			puts = append(puts, recoveredPut{id: id, action: action, corrupt: corrupt})
			offset = newOffset

		case recordComplete:
			if offset+8 > l.size {
				return nil, 0, ErrCorrupted
			}
			id := binary.LittleEndian.Uint64(l.data[offset:])
			offset += 8
			completed[id] = true

		default:
			return nil, 0, fmt.Errorf("%w: unknown record type %d", ErrCorrupted, recType)
		}
	}

	filtered := puts[:0]
	for _, p := range puts {
		if !completed[p.id] {
			filtered = append(filtered, p)
		}
	}

	return filtered, maxID, nil
}

func (l *durableLog) readPut(offset uint64) (uint64, Action, uint64, error) {
	if offset+8 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	id := binary.LittleEndian.Uint64(l.data[offset:])
	offset += 8

	if offset+1 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	kind := Kind(l.data[offset])
	offset++

	if offset+8 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	runningBytes := binary.LittleEndian.Uint64(l.data[offset:])
	offset += 8

	if offset+8 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	partIndex := binary.LittleEndian.Uint64(l.data[offset:])
	offset += 8

	if offset+2 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	dirLen := binary.LittleEndian.Uint16(l.data[offset:])
	offset += 2

	if offset+uint64(dirLen) > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	directory := string(l.data[offset : offset+uint64(dirLen)])
	offset += uint64(dirLen)

	if offset+8 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	entryCount := binary.LittleEndian.Uint64(l.data[offset:])
	offset += 8

	if offset+4 > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	dataLen := binary.LittleEndian.Uint32(l.data[offset:])
	offset += 4

	if offset+uint64(dataLen) > l.size {
		return 0, Action{}, 0, ErrCorrupted
	}
	data := make([]byte, dataLen)
	copy(data, l.data[offset:offset+uint64(dataLen)])
	offset += uint64(dataLen)

	action := Action{
		Kind:       kind,
		Position:   Position{RunningBytes: runningBytes, PartIndex: partIndex, Directory: directory},
		EntryCount: entryCount,
		Bytes:      data,
	}

	return id, action, offset, nil
}

// sync forces pending writes to durable storage.
func (l *durableLog) sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if !l.dirty {
		return nil
	}
	if err := unix.Msync(l.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	l.dirty = false
	return nil
}

func (l *durableLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *durableLog) closeLocked() error {
	if l.closed {
		return nil
	}
	l.closed = true

	if l.data != nil {
		_ = unix.Msync(l.data, unix.MS_SYNC)
		if err := unix.Munmap(l.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		l.data = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		l.file = nil
	}
	return nil
}
