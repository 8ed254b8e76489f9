package core

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// Store instance of a storage engine
type Store interface {
	Get(string) (string, bool, error)
	Set(string, string) error
	Remove(string) error
	Close() error
}

// Engine log structured storage engine. Every mutation is appended to the
// head log and the in-memory index keeps the offset of the latest set record
// of every live key. Engine is not safe for concurrent use and must be the
// only engine opened on its data path.
type Engine struct {
	logFile             *logFile   // head log holding every command
	index               *index     // offsets of live set records by key
	lruValues           *lru.Cache // values by record offset, nil when disabled
	dataPath            string     // directory holding the head log
	compactionThreshold int64      // log size that triggers compaction
	useSnapshots        bool       // persist the index on close
	isClosed            bool
	recordBuf           []byte // scratch space for reads

	logger log.FieldLogger
}

// Open opens the store in dataPath using the default configuration
func Open(dataPath string) (*Engine, error) {
	return NewEngine(DefaultEngineConfig(dataPath))
}

// NewEngine creates the data path if needed, opens the head log and
// rebuilds the index from it
func NewEngine(config *EngineConfig) (*Engine, error) {
	if err := os.MkdirAll(config.DataPath, 0755); err != nil {
		return nil, err
	}

	logFile, err := openLogFile(config.DataPath, config.MaxRecordSize, config.SyncWrites)
	if err != nil {
		return nil, err
	}

	compactionThreshold := config.CompactionThreshold
	if compactionThreshold <= 0 {
		compactionThreshold = DefaultCompactionThreshold
	}

	engine := &Engine{
		logFile:             logFile,
		index:               newIndex(),
		dataPath:            config.DataPath,
		compactionThreshold: compactionThreshold,
		useSnapshots:        config.UseSnapshots,
		logger:              log.WithField("storage_engine", "log_structured"),
	}

	if config.CacheSize > 0 {
		lruCache, err := lru.New(config.CacheSize)
		if err != nil {
			logFile.close()
			return nil, err
		}
		engine.lruValues = lruCache
	}

	if err := engine.recover(); err != nil {
		logFile.close()
		return nil, err
	}

	engine.logger.Infof("opened store at %s with %d keys and a %s log",
		config.DataPath, engine.index.len(), humanize.Bytes(uint64(logFile.size)))

	return engine, nil
}

// recover rebuilds the index, from a snapshot matching the head log when
// snapshots are enabled, otherwise by replaying the whole log
func (engine *Engine) recover() error {
	snapshot, err := consumeSnapshot(engine.dataPath)
	if err != nil {
		engine.logger.Warnf("ignoring unreadable snapshot: %s", err)
		snapshot = nil
	}

	if engine.useSnapshots && snapshot != nil {
		if snapshot.LogSize == engine.logFile.size {
			offsets, err := snapshot.Offsets()
			if err == nil {
				engine.index.restore(offsets)
				engine.logger.Debugf("recovered index from snapshot %s", snapshot.ID)
				return nil
			}
			engine.logger.Warnf("ignoring undecodable snapshot %s: %s", snapshot.ID, err)
		} else {
			engine.logger.Warnf("ignoring stale snapshot %s taken at log size %d, log size is %d",
				snapshot.ID, snapshot.LogSize, engine.logFile.size)
		}
	}

	return engine.replay()
}

// replay reads the head log from the start and applies every command to the
// index. A terminal record that fails to decode is the remains of an
// interrupted append and is cut off; any other bad record fails the replay.
func (engine *Engine) replay() error {
	defer observeOperation(replayOperation, time.Now())
	engine.logger.Debug("replaying head log")

	if err := engine.logFile.rewind(); err != nil {
		return err
	}

	var buf []byte
	records := 0
	lastTerminated := false

	for {
		offset, err := engine.logFile.currentOffset()
		if err != nil {
			return err
		}

		buf, err = engine.logFile.readUntil(recordDelimiter, buf)
		if err != nil {
			return fmt.Errorf("%w: reading record at offset %d: %v", ErrCorruptedLog, offset, err)
		}

		if len(buf) == 0 {
			if lastTerminated {
				// the log ends with a delimiter that no payload followed
				engine.logger.Warnf("trimming dangling delimiter at offset %d", offset-1)
				if err := engine.logFile.truncate(offset - 1); err != nil {
					return err
				}
			}
			break
		}

		record, terminated := trimDelimiter(buf, recordDelimiter)
		lastTerminated = terminated

		cmd, err := DecodeCommand(record)
		if err != nil {
			if terminated {
				return fmt.Errorf("%w: record at offset %d: %v", ErrCorruptedLog, offset, err)
			}

			engine.logger.Warnf("discarding torn record of %d bytes at offset %d: %s", len(record), offset, err)
			TornRecordCount.Inc()

			cut := offset
			if cut > 0 {
				cut--
			}
			if err := engine.logFile.truncate(cut); err != nil {
				return err
			}
			break
		}

		switch cmd.Kind {
		case SetCommand:
			engine.index.upsert(cmd.Key, offset)
		case RemoveCommand:
			if _, ok := engine.index.remove(cmd.Key); !ok {
				return fmt.Errorf("%w: remove of key %q at offset %d has no prior set", ErrCorruptedLog, cmd.Key, offset)
			}
		}
		records++
	}

	engine.logger.Debugf("replayed %d records into %d keys", records, engine.index.len())
	return nil
}

// Set stores a key and it's associated value
func (engine *Engine) Set(key, value string) error {
	if engine.isClosed {
		return ErrEngineClosed
	}

	engine.logger.Debugf("setting key %s", key)

	record, err := NewSetCommand(key, value).Encode()
	if err != nil {
		return err
	}

	offset, err := engine.appendRecord(record)
	if err != nil {
		return err
	}
	LogFileRecordSizes.WithLabelValues(string(SetCommand)).Observe(float64(len(record)))

	if previous, ok := engine.index.get(key); ok {
		engine.evictValue(previous)
	}
	engine.index.upsert(key, offset)
	if engine.lruValues != nil {
		engine.lruValues.Add(offset, value)
	}

	return engine.checkCompaction()
}

// Get retrieves stored value for associated key, ok is false when the key
// does not exist
func (engine *Engine) Get(key string) (string, bool, error) {
	if engine.isClosed {
		return "", false, ErrEngineClosed
	}

	engine.logger.Debugf("getting key %s", key)

	offset, ok := engine.index.get(key)
	if !ok {
		return "", false, nil
	}

	if engine.lruValues != nil {
		if cacheHit, ok := engine.lruValues.Get(offset); ok {
			return cacheHit.(string), true, nil
		}
	}

	buf, err := engine.logFile.readFrom(offset, recordDelimiter, engine.recordBuf)
	engine.recordBuf = buf
	if err != nil {
		return "", false, err
	}

	record, _ := trimDelimiter(buf, recordDelimiter)
	cmd, err := DecodeCommand(record)
	if err != nil {
		return "", false, err
	}

	if cmd.Kind != SetCommand || cmd.Key != key {
		return "", false, fmt.Errorf("%w: offset %d of key %q holds a %s record for key %q",
			ErrInvariantViolation, offset, key, cmd.Kind, cmd.Key)
	}

	if engine.lruValues != nil {
		engine.lruValues.Add(offset, cmd.Value)
	}

	return cmd.Value, true, nil
}

// Remove deletes a key by appending a tombstone record to the head log
func (engine *Engine) Remove(key string) error {
	if engine.isClosed {
		return ErrEngineClosed
	}

	engine.logger.Debugf("removing key %s", key)

	if _, ok := engine.index.get(key); !ok {
		return ErrKeyNotFound
	}

	record, err := NewRemoveCommand(key).Encode()
	if err != nil {
		return err
	}

	if _, err := engine.appendRecord(record); err != nil {
		return err
	}
	LogFileRecordSizes.WithLabelValues(string(RemoveCommand)).Observe(float64(len(record)))

	if previous, ok := engine.index.remove(key); ok {
		engine.evictValue(previous)
	}

	return engine.checkCompaction()
}

// appendRecord appends record to the head log and returns its offset
func (engine *Engine) appendRecord(record []byte) (int64, error) {
	if _, err := engine.logFile.append(record); err != nil {
		return 0, err
	}

	end, err := engine.logFile.currentOffset()
	if err != nil {
		return 0, err
	}

	return end - int64(len(record)), nil
}

func (engine *Engine) evictValue(offset int64) {
	if engine.lruValues != nil {
		engine.lruValues.Remove(offset)
	}
}

// checkCompaction compacts the head log once it reaches the compaction
// threshold
func (engine *Engine) checkCompaction() error {
	if engine.logFile.size < engine.compactionThreshold {
		return nil
	}

	return engine.compact()
}

// Compact rewrites the head log keeping only the live set records
func (engine *Engine) Compact() error {
	if engine.isClosed {
		return ErrEngineClosed
	}

	return engine.compact()
}

func (engine *Engine) compact() error {
	start := time.Now()
	sizeBefore := engine.logFile.size
	offsets, keysByOffset := engine.index.sortedOffsets()

	engine.logger.Infof("compacting %s log holding %d live keys", humanize.Bytes(uint64(sizeBefore)), len(offsets))

	newOffsets, err := engine.logFile.compact(offsets)
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}

	rebuilt := newIndex()
	for i, offset := range offsets {
		rebuilt.upsert(keysByOffset[offset], newOffsets[i])
	}
	engine.index.replace(rebuilt)

	// offsets of the old file mean nothing in the compacted one
	if engine.lruValues != nil {
		engine.lruValues.Purge()
	}

	reclaimed := sizeBefore - engine.logFile.size
	CompactionCount.Inc()
	CompactionReclaimedBytes.Observe(float64(reclaimed))

	engine.logger.Infof("compacted log to %s, reclaimed %s in %v",
		humanize.Bytes(uint64(engine.logFile.size)), humanize.Bytes(uint64(reclaimed)), time.Since(start))

	return nil
}

// Len returns the number of live keys
func (engine *Engine) Len() int {
	return engine.index.len()
}

// Size returns the size of the head log in bytes
func (engine *Engine) Size() int64 {
	return engine.logFile.size
}

// Sync flushes the head log to disk
func (engine *Engine) Sync() error {
	if engine.isClosed {
		return ErrEngineClosed
	}

	return engine.logFile.sync()
}

// Close persists the index snapshot when enabled, then flushes and releases
// the head log. Closing a closed engine is a no-op.
func (engine *Engine) Close() error {
	if engine.isClosed {
		return nil
	}

	engine.logger.Debug("closing database")
	engine.isClosed = true

	var snapshotErr error
	if engine.useSnapshots {
		snapshotErr = engine.snapshot()
	}

	if err := engine.logFile.close(); err != nil {
		return err
	}

	return snapshotErr
}

// snapshot writes the index to disk alongside the head log size it matches
func (engine *Engine) snapshot() error {
	engine.logger.Debug("snapshotting index")

	snapshotEntry, err := newSnapshotEntry(engine.index.snapshot(), engine.logFile.size)
	if err != nil {
		return err
	}

	return writeSnapshot(engine.dataPath, snapshotEntry)
}
