package core

import (
	"fmt"
	"path/filepath"
)

const (
	headLogFileName  = "head.log"
	snapshotFileName = "head.snapshot"
)

func getHeadLogPath(dataPath string) string {
	return filepath.Join(dataPath, headLogFileName)
}

func getSnapshotPath(dataPath string) string {
	return filepath.Join(dataPath, snapshotFileName)
}

// getCompactionPath computes the sibling temporary file a compaction writes to
// before it is renamed over the head log
func getCompactionPath(dataPath string, id string) string {
	return filepath.Join(dataPath, fmt.Sprintf("%s.%s.compact", headLogFileName, id))
}
