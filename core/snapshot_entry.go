package core

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidSnapshotEntryChecksum occurs when a snapshot is corrupted
var ErrInvalidSnapshotEntryChecksum = errors.New("snapshot corrupted")

// SnapshotEntry persisted copy of the index, valid only for a head log of
// exactly LogSize bytes
type SnapshotEntry struct {
	Snapshot  []byte // msgpack encoded index
	Checksum  uint32 // used to detect corrupted snapshots
	LogSize   int64  // size of the head log the index was taken from
	ID        string
	Timestamp int64
}

func computeSnapshotChecksum(snapshotBytes []byte, logSize int64) uint32 {
	snapshotHash := sha256.Sum256(snapshotBytes)
	checksum := crc32.NewIEEE()
	checksum.Write(snapshotHash[:])
	var logSizeBytes [8]byte
	binary.BigEndian.PutUint64(logSizeBytes[:], uint64(logSize))
	checksum.Write(logSizeBytes[:])
	return checksum.Sum32()
}

// Encode encodes the snapshot entry to bytes using msgpack
func (snapshot *SnapshotEntry) Encode() ([]byte, error) {
	return msgpack.Marshal(snapshot)
}

// Decode decodes snapshot entry bytes and verifies the checksum
func (snapshot *SnapshotEntry) Decode(snapshotBytes []byte) error {
	snapshotEntry := &SnapshotEntry{}
	if err := msgpack.Unmarshal(snapshotBytes, snapshotEntry); err != nil {
		return err
	}

	if computeSnapshotChecksum(snapshotEntry.Snapshot, snapshotEntry.LogSize) != snapshotEntry.Checksum {
		return ErrInvalidSnapshotEntryChecksum
	}

	*snapshot = *snapshotEntry
	return nil
}

// Offsets decodes the index carried by the snapshot
func (snapshot *SnapshotEntry) Offsets() (logEntryIndexByKey, error) {
	offsets := make(logEntryIndexByKey)
	if err := msgpack.Unmarshal(snapshot.Snapshot, &offsets); err != nil {
		return nil, err
	}
	return offsets, nil
}

func newSnapshotEntry(offsets logEntryIndexByKey, logSize int64) (*SnapshotEntry, error) {
	snapshotBytes, err := msgpack.Marshal(offsets)
	if err != nil {
		return nil, err
	}

	return &SnapshotEntry{
		Snapshot:  snapshotBytes,
		Checksum:  computeSnapshotChecksum(snapshotBytes, logSize),
		LogSize:   logSize,
		ID:        uuid.New().String(),
		Timestamp: time.Now().Unix(),
	}, nil
}

// writeSnapshot persists the snapshot next to the head log
func writeSnapshot(dataPath string, snapshot *SnapshotEntry) error {
	snapshotBytes, err := snapshot.Encode()
	if err != nil {
		return err
	}

	file, err := os.Create(getSnapshotPath(dataPath))
	if err != nil {
		return err
	}

	if _, err := file.Write(snapshotBytes); err != nil {
		file.Close()
		return err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}

// consumeSnapshot reads and deletes the snapshot stored in dataPath. A missing
// snapshot yields nil without an error.
func consumeSnapshot(dataPath string) (*SnapshotEntry, error) {
	snapshotPath := getSnapshotPath(dataPath)
	snapshotBytes, err := os.ReadFile(snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := os.Remove(snapshotPath); err != nil {
		return nil, err
	}

	snapshot := new(SnapshotEntry)
	if err := snapshot.Decode(snapshotBytes); err != nil {
		return nil, err
	}

	return snapshot, nil
}
