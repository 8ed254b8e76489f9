package core

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// defaultReadChunkSize number of bytes read from disk per scan step
	defaultReadChunkSize = 512
	// DefaultMaxRecordSize largest record the log accepts or reads back
	DefaultMaxRecordSize = 4 << 20
)

// logFile append-only file holding delimiter separated command records. A
// record's offset is the position of its first payload byte, the delimiter is
// only ever written in front of a record that is not the first one.
type logFile struct {
	file          *os.File // open file descriptor of the head log
	dataPath      string   // directory holding the head log
	fileName      string   // path of the head log on disk
	size          int64    // current size of the file in bytes
	chunk         []byte   // scratch space for chunked reads
	maxRecordSize int      // max size of a record payload
	syncWrites    bool     // fsync after every append
	logger        log.FieldLogger
}

// openLogFile creates or opens the head log inside dataPath
func openLogFile(dataPath string, maxRecordSize int, syncWrites bool) (*logFile, error) {
	fileName := getHeadLogPath(dataPath)
	file, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	fileStat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if maxRecordSize <= 0 {
		maxRecordSize = DefaultMaxRecordSize
	}

	lf := &logFile{
		file:          file,
		dataPath:      dataPath,
		fileName:      fileName,
		size:          fileStat.Size(),
		chunk:         make([]byte, defaultReadChunkSize),
		maxRecordSize: maxRecordSize,
		syncWrites:    syncWrites,
		logger:        log.WithField("fileName", fileName),
	}

	LogFileSizeBytes.Set(float64(lf.size))
	lf.logger.Debugf("opened log file of %s", humanize.Bytes(uint64(lf.size)))

	return lf, nil
}

// append writes p at the end of the file, preceded by the delimiter when the
// file already holds records. It returns the number of bytes written
// including the delimiter.
func (lf *logFile) append(p []byte) (int, error) {
	defer observeOperation(appendOperation, time.Now())

	if len(p) > lf.maxRecordSize {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrRecordTooLarge, len(p), lf.maxRecordSize)
	}

	end, err := lf.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	// delimiter and payload go out in one write so a crash leaves at most one
	// torn record behind
	record := make([]byte, 0, len(p)+1)
	if end > 0 {
		record = append(record, recordDelimiter)
	}
	record = append(record, p...)

	n, err := lf.file.Write(record)
	lf.size = end + int64(n)
	LogFileSizeBytes.Set(float64(lf.size))
	if err != nil {
		return n, err
	}

	if lf.syncWrites {
		if err := lf.file.Sync(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// readUntil reads forward from the cursor in fixed size chunks until the
// delimiter is found, leaving the cursor right after it. The returned slice
// reuses buf and includes the delimiter. An empty result means the end of the
// log was reached; a non empty result without the delimiter is the terminal
// record.
func (lf *logFile) readUntil(delimiter byte, buf []byte) ([]byte, error) {
	buf = buf[:0]
	limit := lf.maxRecordSize + 1

	for {
		n, err := lf.file.Read(lf.chunk)
		if n > 0 {
			if i := bytes.IndexByte(lf.chunk[:n], delimiter); i >= 0 {
				buf = append(buf, lf.chunk[:i+1]...)

				// rewind to the byte right after the delimiter
				if unread := n - (i + 1); unread > 0 {
					if _, err := lf.file.Seek(int64(-unread), io.SeekCurrent); err != nil {
						return buf, err
					}
				}

				if len(buf) > limit {
					return buf, ErrRecordTooLarge
				}
				return buf, nil
			}

			buf = append(buf, lf.chunk[:n]...)
			if len(buf) > limit {
				return buf, ErrRecordTooLarge
			}
		}

		if err == io.EOF {
			return buf, nil
		}

		if err != nil {
			return buf, err
		}
	}
}

// currentOffset returns the position of the file cursor
func (lf *logFile) currentOffset() (int64, error) {
	return lf.file.Seek(0, io.SeekCurrent)
}

// readFrom reads the record starting at offset
func (lf *logFile) readFrom(offset int64, delimiter byte, buf []byte) ([]byte, error) {
	defer observeOperation(readOperation, time.Now())

	if _, err := lf.file.Seek(offset, io.SeekStart); err != nil {
		return buf[:0], err
	}

	return lf.readUntil(delimiter, buf)
}

// rewind moves the cursor back to the first record
func (lf *logFile) rewind() error {
	_, err := lf.file.Seek(0, io.SeekStart)
	return err
}

// compact rewrites the records found at the retained offsets, in ascending
// order, into a sibling file that then replaces the head log. It returns the
// new offset of every retained record, index aligned with retained. The head
// log is left untouched when compact fails before the rename.
func (lf *logFile) compact(retained []int64) ([]int64, error) {
	defer observeOperation(compactOperation, time.Now())

	if err := lf.file.Sync(); err != nil {
		return nil, err
	}

	if err := lf.rewind(); err != nil {
		return nil, err
	}

	compactionPath := getCompactionPath(lf.dataPath, uuid.New().String())
	compacted, err := os.OpenFile(compactionPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	renamed := false
	defer func() {
		if !renamed {
			compacted.Close()
			os.Remove(compactionPath)
		}
	}()

	lf.logger.Debugf("compacting %d records into %s", len(retained), compactionPath)

	writer := bufio.NewWriter(compacted)
	newOffsets := make([]int64, len(retained))
	var written int64
	var buf []byte

	for i, offset := range retained {
		if i > 0 && offset <= retained[i-1] {
			return nil, fmt.Errorf("retained offsets must be ascending, got %d after %d", offset, retained[i-1])
		}

		buf, err = lf.readFrom(offset, recordDelimiter, buf)
		if err != nil {
			return nil, err
		}

		record, _ := trimDelimiter(buf, recordDelimiter)
		if len(record) == 0 {
			return nil, fmt.Errorf("%w: no record at offset %d", ErrCorruptedLog, offset)
		}

		if written > 0 {
			if err := writer.WriteByte(recordDelimiter); err != nil {
				return nil, err
			}
			written++
		}

		newOffsets[i] = written
		n, err := writer.Write(record)
		written += int64(n)
		if err != nil {
			return nil, err
		}
	}

	if err := writer.Flush(); err != nil {
		return nil, err
	}

	if err := compacted.Sync(); err != nil {
		return nil, err
	}

	if err := os.Rename(compactionPath, lf.fileName); err != nil {
		return nil, err
	}
	renamed = true

	// the compacted handle now refers to the head log path
	previous := lf.file
	lf.file = compacted
	lf.size = written
	LogFileSizeBytes.Set(float64(lf.size))

	if err := previous.Close(); err != nil {
		lf.logger.Warnf("failed to close pre-compaction log handle: %s", err)
	}

	if err := syncDir(lf.dataPath); err != nil {
		lf.logger.Warnf("failed to sync data directory after compaction: %s", err)
	}

	return newOffsets, nil
}

// truncate cuts the file down to size bytes and moves the cursor there
func (lf *logFile) truncate(size int64) error {
	defer observeOperation(truncateOperation, time.Now())

	if err := lf.file.Truncate(size); err != nil {
		return err
	}

	if _, err := lf.file.Seek(size, io.SeekStart); err != nil {
		return err
	}

	lf.size = size
	LogFileSizeBytes.Set(float64(lf.size))
	return nil
}

func (lf *logFile) sync() error {
	return lf.file.Sync()
}

// close flushes the file to disk and releases the descriptor
func (lf *logFile) close() error {
	lf.logger.Debug("closing log file")

	if err := lf.file.Sync(); err != nil {
		lf.file.Close()
		return err
	}

	return lf.file.Close()
}

// trimDelimiter strips a trailing delimiter and reports whether there was one
func trimDelimiter(buf []byte, delimiter byte) ([]byte, bool) {
	if n := len(buf); n > 0 && buf[n-1] == delimiter {
		return buf[:n-1], true
	}
	return buf, false
}

// syncDir persists directory entries, making a rename durable
func syncDir(dataPath string) error {
	dir, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer dir.Close()

	return dir.Sync()
}
