package auditlog

import (
	"errors"
	"sync"

	"github.com/terrama2/services/pkg/log"
)

// Shared persistence target of all audit loggers of a service.
//
// The store can be replaced while runs are in progress. Runs keep using the
// store they were started on, a replaced store is closed once its last run
// has finished.
type Target struct {
	sync.Mutex

	uri    string
	store  Store
	closed bool

	// Number of unfinished runs per store
	refs map[Store]int

	// Replaced stores waiting for their runs to finish
	retired map[Store]bool

	openStore func(uri string) (Store, error)
}

// Open the store at uri and wrap it in a target.
func Open(uri string) (*Target, error) {
	store, err := OpenStore(uri)
	if err != nil {
		return nil, err
	}
	return NewTarget(uri, store), nil
}

func NewTarget(uri string, store Store) *Target {
	return &Target{
		uri:       uri,
		store:     store,
		refs:      map[Store]int{},
		retired:   map[Store]bool{},
		openStore: OpenStore,
	}
}

func (t *Target) Uri() string {
	t.Lock()
	defer t.Unlock()
	return t.uri
}

// True while the target accepts new runs.
func (t *Target) Online() bool {
	t.Lock()
	defer t.Unlock()
	return !t.closed && t.store != nil
}

// Replace the store by the one at uri. Runs started from now on are
// recorded in the new store. The current store is kept if uri cannot be opened.
func (t *Target) Reopen(uri string) error {
	store, err := t.openStore(uri)
	if err != nil {
		return err
	}

	t.Lock()
	defer t.Unlock()

	if t.closed {
		store.Close()
		return ErrClosed
	}

	old := t.store
	t.store = store
	t.uri = uri
	log.Info("upd - audit - target:", uri)

	if old != nil {
		t.retireNoLock(old)
	}
	return nil
}

// Close the current store and all replaced ones.
func (t *Target) Close() error {
	t.Lock()
	defer t.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if t.store != nil {
		errs = append(errs, t.store.Close())
	}
	for store := range t.retired {
		errs = append(errs, store.Close())
	}
	t.retired = map[Store]bool{}
	return errors.Join(errs...)
}

// Current store, pinned until release is called.
func (t *Target) acquire() (Store, error) {
	t.Lock()
	defer t.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	t.refs[t.store]++
	return t.store, nil
}

func (t *Target) release(store Store) {
	t.Lock()
	defer t.Unlock()

	t.refs[store]--
	if t.refs[store] <= 0 {
		delete(t.refs, store)
		if t.retired[store] {
			t.retireNoLock(store)
		}
	}
}

// Current store for queries.
func (t *Target) current() (Store, error) {
	t.Lock()
	defer t.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	return t.store, nil
}

func (t *Target) retireNoLock(store Store) {
	if t.refs[store] > 0 {
		t.retired[store] = true
		return
	}

	delete(t.retired, store)
	if err := store.Close(); err != nil {
		log.Warn("del - audit - store close failed:", err)
	}
}
