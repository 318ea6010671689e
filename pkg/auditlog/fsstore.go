package auditlog

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/utils"
)

const runSuffix = ".run"

// Store keeping each run as a zstd compressed gob file <table>/<id>.run.
// All runs are indexed in memory, files are rewritten on every change.
type fsStore struct {
	sync.RWMutex
	fs      utils.Fs
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	lastId  RegisterId
	runs    map[string]map[RegisterId]*Record
}

// Create a store on a filesystem and load the runs it already contains.
func NewFsStore(fs utils.Fs) (Store, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	store := &fsStore{
		fs:      fs,
		encoder: encoder,
		decoder: decoder,
		runs:    map[string]map[RegisterId]*Record{},
	}

	runCount := 0

	afero.Walk(fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(p, runSuffix) {
			return nil
		}

		table := filepath.Base(filepath.Dir(p))
		if checkTable(table) != nil {
			return nil
		}

		record, err := store.load(p)
		if err != nil {
			log.Warn("Skipping unreadable audit run", p, err)
			return nil
		}

		store.tableNoLock(table)[record.RegisterId] = record
		if record.RegisterId > store.lastId {
			store.lastId = record.RegisterId
		}
		runCount++
		return nil
	})

	log.Infof("Loaded %d audit runs", runCount)

	return store, nil
}

func (s *fsStore) Insert(ctx context.Context, table string, processId int64, ts time.Time) (RegisterId, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}

	s.Lock()
	defer s.Unlock()

	record := &Record{
		RegisterId:           s.lastId + 1,
		ProcessId:            processId,
		Status:               Started,
		StartTimestamp:       ts,
		LastProcessTimestamp: ts,
	}

	if err := s.saveNoLock(table, record); err != nil {
		return 0, err
	}

	s.lastId = record.RegisterId
	s.tableNoLock(table)[record.RegisterId] = record
	return record.RegisterId, nil
}

func (s *fsStore) Transition(ctx context.Context, table string, id RegisterId, to Status, from []Status, ts time.Time, data *time.Time) error {
	return s.update(table, id, func(record *Record) error {
		if from != nil && !containsStatus(from, record.Status) {
			return fmt.Errorf("%w: run %d is %s", ErrInvalidTransition, id, record.Status)
		}

		record.Status = to
		record.LastProcessTimestamp = ts
		if data != nil {
			value := *data
			record.DataTimestamp = &value
		}
		return nil
	})
}

func (s *fsStore) Append(ctx context.Context, table string, id RegisterId, msg Message) error {
	return s.update(table, id, func(record *Record) error {
		msg.Id = int64(len(record.Messages) + 1)
		record.Messages = append(record.Messages, msg)
		record.LastProcessTimestamp = msg.Timestamp
		return nil
	})
}

func (s *fsStore) Get(ctx context.Context, table string, id RegisterId) (*Record, error) {
	s.RLock()
	defer s.RUnlock()

	record, ok := s.runs[table][id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return copyRecord(record), nil
}

func (s *fsStore) Find(ctx context.Context, table string, filter Filter) ([]*Record, error) {
	s.RLock()
	defer s.RUnlock()

	records := []*Record{}
	for _, record := range s.runs[table] {
		if filter.matches(record) {
			records = append(records, copyRecord(record))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].RegisterId < records[j].RegisterId
	})

	return tail(records, filter.Limit), nil
}

func (s *fsStore) LastDone(ctx context.Context, table string, processId int64) (*Record, error) {
	s.RLock()
	defer s.RUnlock()

	var last *Record
	for _, record := range s.runs[table] {
		if record.ProcessId != processId || record.Status != Done {
			continue
		}
		if last == nil || record.StartTimestamp.After(last.StartTimestamp) ||
			(record.StartTimestamp.Equal(last.StartTimestamp) && record.RegisterId > last.RegisterId) {
			last = record
		}
	}

	if last == nil {
		return nil, fmt.Errorf("%w: no successful run of process %d", ErrNotFound, processId)
	}
	return copyRecord(last), nil
}

func (s *fsStore) LastDataTimestamp(ctx context.Context, table string, processId int64) (*time.Time, error) {
	s.RLock()
	defer s.RUnlock()

	var last *time.Time
	for _, record := range s.runs[table] {
		if record.ProcessId != processId || record.Status != Done || record.DataTimestamp == nil {
			continue
		}
		if last == nil || record.DataTimestamp.After(*last) {
			value := *record.DataTimestamp
			last = &value
		}
	}
	return last, nil
}

func (s *fsStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return nil
}

// Apply fn to a copy of a run and persist it. The index is updated only
// if the file was written.
func (s *fsStore) update(table string, id RegisterId, fn func(*Record) error) error {
	s.Lock()
	defer s.Unlock()

	record, ok := s.runs[table][id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	updated := copyRecord(record)
	if err := fn(updated); err != nil {
		return err
	}

	if err := s.saveNoLock(table, updated); err != nil {
		return err
	}

	s.runs[table][id] = updated
	return nil
}

func (s *fsStore) tableNoLock(table string) map[RegisterId]*Record {
	runs, ok := s.runs[table]
	if !ok {
		runs = map[RegisterId]*Record{}
		s.runs[table] = runs
	}
	return runs
}

func runPath(table string, id RegisterId) string {
	return filepath.Join(table, strconv.FormatInt(int64(id), 10)+runSuffix)
}

func (s *fsStore) saveNoLock(table string, record *Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(table, 0755); err != nil {
		return err
	}

	p := runPath(table, record.RegisterId)
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, s.encoder.EncodeAll(buf.Bytes(), nil), 0644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, p)
}

func (s *fsStore) load(p string) (*Record, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, err
	}

	data, err = s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}

	record := &Record{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(record); err != nil {
		return nil, err
	}
	return record, nil
}

func copyRecord(record *Record) *Record {
	clone := *record
	if record.DataTimestamp != nil {
		value := *record.DataTimestamp
		clone.DataTimestamp = &value
	}
	clone.Messages = append([]Message(nil), record.Messages...)
	return &clone
}
