// Package history records the last execution of each unit of work so later
// runs can decide whether it is up to date.
package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"kiln/internal/snapshot"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const executionPrefix = "execution:"

// Execution is the recorded state after a unit of work last ran.
type Execution struct {
	ID       uuid.UUID
	Task     string
	Action   string
	CacheKey string
	// OutputRoots maps each declared output name to its path.
	OutputRoots map[string]string
	Inputs      *snapshot.Snapshot
	Outputs     *snapshot.Snapshot
	Succeeded   bool
	Time        time.Time
}

type executionRecord struct {
	ID          uuid.UUID         `json:"id"`
	Task        string            `json:"task"`
	Action      string            `json:"action,omitempty"`
	CacheKey    string            `json:"cache_key,omitempty"`
	OutputRoots map[string]string `json:"output_roots,omitempty"`
	Inputs      json.RawMessage   `json:"inputs"`
	Outputs     json.RawMessage   `json:"outputs"`
	Succeeded   bool              `json:"succeeded"`
	Time        time.Time         `json:"time"`
}

// Store persists executions in badger, one per task name.
type Store struct {
	db *badger.DB
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) makeKey(task string) []byte {
	return []byte(executionPrefix + task)
}

// Load returns the last execution of task; ok is false when it never ran.
func (s *Store) Load(task string) (*Execution, bool, error) {
	var rec executionRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(task))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading history for %s: %w", task, err)
	}

	inputs, err := snapshot.Decode(rec.Inputs)
	if err != nil {
		return nil, false, fmt.Errorf("loading history for %s: inputs: %w", task, err)
	}
	outputs, err := snapshot.Decode(rec.Outputs)
	if err != nil {
		return nil, false, fmt.Errorf("loading history for %s: outputs: %w", task, err)
	}

	return &Execution{
		ID:          rec.ID,
		Task:        rec.Task,
		Action:      rec.Action,
		CacheKey:    rec.CacheKey,
		OutputRoots: rec.OutputRoots,
		Inputs:      inputs,
		Outputs:     outputs,
		Succeeded:   rec.Succeeded,
		Time:        rec.Time,
	}, true, nil
}

// Save replaces the recorded execution of e.Task. A zero ID is assigned.
func (s *Store) Save(e *Execution) error {
	if e.Task == "" {
		return fmt.Errorf("execution task cannot be empty")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	inputs, err := snapshot.Encode(e.Inputs)
	if err != nil {
		return fmt.Errorf("encoding inputs: %w", err)
	}
	outputs, err := snapshot.Encode(e.Outputs)
	if err != nil {
		return fmt.Errorf("encoding outputs: %w", err)
	}

	data, err := json.Marshal(executionRecord{
		ID:          e.ID,
		Task:        e.Task,
		Action:      e.Action,
		CacheKey:    e.CacheKey,
		OutputRoots: e.OutputRoots,
		Inputs:      inputs,
		Outputs:     outputs,
		Succeeded:   e.Succeeded,
		Time:        e.Time,
	})
	if err != nil {
		return fmt.Errorf("marshaling execution: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(e.Task), data)
	})
}

// Delete forgets task. Deleting an unknown task is not an error.
func (s *Store) Delete(task string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.makeKey(task))
	})
}

// Tasks lists the recorded task names in order.
func (s *Store) Tasks() ([]string, error) {
	var tasks []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(executionPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			tasks = append(tasks, strings.TrimPrefix(string(it.Item().Key()), executionPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	sort.Strings(tasks)
	return tasks, nil
}
