package core

import (
	"errors"
	"reflect"
	"testing"
)

func TestSnapshotEntryRoundTrip(t *testing.T) {
	dataPath := t.TempDir()
	offsets := logEntryIndexByKey{"a": 0, "b": 37}

	snapshot, err := newSnapshotEntry(offsets, 80)
	if err != nil {
		t.Fatal(err)
	}

	if err := writeSnapshot(dataPath, snapshot); err != nil {
		t.Fatal(err)
	}

	loaded, err := consumeSnapshot(dataPath)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.LogSize != 80 || loaded.ID != snapshot.ID {
		t.Errorf("expected snapshot %s of log size 80, got %s of %d", snapshot.ID, loaded.ID, loaded.LogSize)
	}

	loadedOffsets, err := loaded.Offsets()
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(loadedOffsets, offsets) {
		t.Errorf("expected %v, got %v", offsets, loadedOffsets)
	}

	// a snapshot is only ever used once
	again, err := consumeSnapshot(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Errorf("expected consumed snapshot to be gone, got %v", again)
	}
}

func TestSnapshotEntryDetectsCorruption(t *testing.T) {
	snapshot, err := newSnapshotEntry(logEntryIndexByKey{"a": 0}, 10)
	if err != nil {
		t.Fatal(err)
	}

	snapshot.LogSize = 11
	snapshotBytes, err := snapshot.Encode()
	if err != nil {
		t.Fatal(err)
	}

	if err := new(SnapshotEntry).Decode(snapshotBytes); !errors.Is(err, ErrInvalidSnapshotEntryChecksum) {
		t.Errorf("expected %v, got %v", ErrInvalidSnapshotEntryChecksum, err)
	}
}
