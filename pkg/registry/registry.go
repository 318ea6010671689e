package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/terrama2/services/pkg/log"
)

var (
	ErrDuplicateId       = errors.New("Duplicate id")
	ErrNotFound          = errors.New("Not found")
	ErrDanglingReference = errors.New("Dangling reference")
	ErrInvalidEntity     = errors.New("Invalid entity")
)

// Answers whether an entity exists.
// Registries implement it and can be companions of each other,
// as long as companions do not form a cycle.
type Lookup interface {
	Contains(key Key) bool
}

// In-memory store of configured entities.
//
// All methods are safe for concurrent use. The registry does not notify
// anyone about mutations, callers wake the dispatcher themselves.
type Registry struct {
	sync.RWMutex

	// Top level entities
	entities map[Key]*Entity

	// Nested child key to the key of its top level entity
	owners map[Key]Key

	// Registries consulted when resolving references
	companions []Lookup
}

func New(companions ...Lookup) *Registry {
	return &Registry{
		entities:   map[Key]*Entity{},
		owners:     map[Key]Key{},
		companions: companions,
	}
}

// Add entities. Fails with ErrDuplicateId if any key, or any child key,
// is already present and with ErrDanglingReference if a reference cannot be
// resolved. Entities of the same call may reference each other.
// Either all entities are added or none.
func (r *Registry) Add(entities ...Entity) error {
	r.Lock()
	defer r.Unlock()

	if err := r.checkAddNoLock(entities); err != nil {
		return err
	}

	for i := range entities {
		r.putNoLock(entities[i].Clone())
		log.Debug("new - entity -", entities[i].Key())
	}

	return nil
}

// Replace entities by key. Fails with ErrNotFound if any is absent and with
// ErrDanglingReference if a reference cannot be resolved.
// Either all entities are replaced or none.
func (r *Registry) Update(entities ...Entity) error {
	r.Lock()
	defer r.Unlock()

	if err := r.checkUpdateNoLock(entities); err != nil {
		return err
	}

	for i := range entities {
		r.deleteNoLock(entities[i].Key())
		r.putNoLock(entities[i].Clone())
		log.Debug("upd - entity -", entities[i].Key())
	}

	return nil
}

// Check entities as Add or Update would, depending on whether they exist,
// and also validate their schedules. The registry is not modified.
func (r *Registry) Validate(entities ...Entity) error {
	r.RLock()
	defer r.RUnlock()

	batch, err := batchKeys(entities)
	if err != nil {
		return err
	}

	replaced := map[Key]bool{}
	for i := range entities {
		if err := entities[i].ValidateSchedule(); err != nil {
			return err
		}
		if old, ok := r.entities[entities[i].Key()]; ok {
			replaced[old.Key()] = true
			old.walkChildren(func(child *Entity) {
				replaced[child.Key()] = true
			})
		}
	}

	for key := range batch {
		if r.containsNoLock(key) && !replaced[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateId, key)
		}
	}

	return r.checkReferencesNoLock(entities, batch, replaced)
}

// Remove entities and their children. Fails with ErrNotFound if any key is
// not a top level entity, in which case nothing is removed.
func (r *Registry) Remove(keys ...Key) error {
	r.Lock()
	defer r.Unlock()

	for _, key := range keys {
		if _, ok := r.entities[key]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
	}

	for _, key := range keys {
		r.deleteNoLock(key)
		log.Debug("del - entity -", key)
	}

	return nil
}

// Returns a copy of the entity, top level or nested.
func (r *Registry) Get(key Key) (*Entity, error) {
	r.RLock()
	defer r.RUnlock()

	if entity, ok := r.entities[key]; ok {
		return entity.Clone(), nil
	}

	if owner, ok := r.owners[key]; ok {
		var found *Entity
		r.entities[owner].walkChildren(func(child *Entity) {
			if found == nil && child.Key() == key {
				found = child.Clone()
			}
		})
		if found != nil {
			return found, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Snapshot of the top level entities of a kind, ordered by id.
func (r *Registry) List(kind Kind) []*Entity {
	r.RLock()
	defer r.RUnlock()

	list := []*Entity{}
	for key, entity := range r.entities {
		if key.Kind == kind {
			list = append(list, entity.Clone())
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Id < list[j].Id
	})

	return list
}

func (r *Registry) Contains(key Key) bool {
	r.RLock()
	defer r.RUnlock()
	return r.containsNoLock(key)
}

// Number of top level entities.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.entities)
}

func (r *Registry) containsNoLock(key Key) bool {
	if _, ok := r.entities[key]; ok {
		return true
	}
	_, ok := r.owners[key]
	return ok
}

func (r *Registry) resolvesNoLock(key Key, batch map[Key]bool, replaced map[Key]bool) bool {
	if batch[key] {
		return true
	}

	if r.containsNoLock(key) && !replaced[key] {
		return true
	}

	for _, companion := range r.companions {
		if companion.Contains(key) {
			return true
		}
	}

	return false
}

// Keys introduced by entities, including children.
// Fails with ErrDuplicateId on a key repeated within the entities.
func batchKeys(entities []Entity) (map[Key]bool, error) {
	keys := map[Key]bool{}

	add := func(key Key) error {
		if keys[key] {
			return fmt.Errorf("%w: %s given twice", ErrDuplicateId, key)
		}
		keys[key] = true
		return nil
	}

	for i := range entities {
		if err := entities[i].Validate(); err != nil {
			return nil, err
		}

		if err := add(entities[i].Key()); err != nil {
			return nil, err
		}

		var err error
		entities[i].walkChildren(func(child *Entity) {
			if err == nil {
				err = add(child.Key())
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return keys, nil
}

func (r *Registry) checkAddNoLock(entities []Entity) error {
	batch, err := batchKeys(entities)
	if err != nil {
		return err
	}

	for key := range batch {
		if r.containsNoLock(key) {
			return fmt.Errorf("%w: %s", ErrDuplicateId, key)
		}
	}

	return r.checkReferencesNoLock(entities, batch, nil)
}

func (r *Registry) checkUpdateNoLock(entities []Entity) error {
	batch, err := batchKeys(entities)
	if err != nil {
		return err
	}

	// Keys owned by the versions being replaced
	replaced := map[Key]bool{}
	for i := range entities {
		key := entities[i].Key()
		old, ok := r.entities[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		replaced[key] = true
		old.walkChildren(func(child *Entity) {
			replaced[child.Key()] = true
		})
	}

	for key := range batch {
		if r.containsNoLock(key) && !replaced[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateId, key)
		}
	}

	return r.checkReferencesNoLock(entities, batch, replaced)
}

func (r *Registry) checkReferencesNoLock(entities []Entity, batch, replaced map[Key]bool) error {
	check := func(entity *Entity) error {
		for _, ref := range entity.References {
			if !r.resolvesNoLock(ref, batch, replaced) {
				return fmt.Errorf("%w: %s references %s", ErrDanglingReference, entity.Key(), ref)
			}
		}
		return nil
	}

	for i := range entities {
		if err := check(&entities[i]); err != nil {
			return err
		}

		var err error
		entities[i].walkChildren(func(child *Entity) {
			if err == nil {
				err = check(child)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Registry) putNoLock(entity *Entity) {
	key := entity.Key()
	r.entities[key] = entity
	entity.walkChildren(func(child *Entity) {
		r.owners[child.Key()] = key
	})
}

func (r *Registry) deleteNoLock(key Key) {
	entity, ok := r.entities[key]
	if !ok {
		return
	}
	entity.walkChildren(func(child *Entity) {
		delete(r.owners, child.Key())
	})
	delete(r.entities, key)
}
