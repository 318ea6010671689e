package registry

import (
	"fmt"

	"github.com/terrama2/services/pkg/timer"
)

// Entity kind tag. Process kinds name the worker which executes them.
type Kind string

const (
	DataProvider Kind = "data_provider"
	DataSeries   Kind = "data_series"
	DataSet      Kind = "dataset"

	Collector    Kind = "collector"
	Analysis     Kind = "analysis"
	Alert        Kind = "alert"
	View         Kind = "view"
	Interpolator Kind = "interpolator"
)

var processKinds = map[Kind]bool{
	Collector:    true,
	Analysis:     true,
	Alert:        true,
	View:         true,
	Interpolator: true,
}

func (k Kind) IsProcess() bool {
	return processKinds[k]
}

// Identifies an entity within a registry.
type Key struct {
	Kind Kind  `json:"kind" yaml:"kind"`
	Id   int64 `json:"id" yaml:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.Id)
}

// A configured entity.
//
// The runtime interprets only the identity, the active and immediate flags
// and the schedule. Everything else is carried in Metadata for the executor.
type Entity struct {
	Kind       Kind              `json:"kind" yaml:"kind"`
	Id         int64             `json:"id" yaml:"id"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Active     bool              `json:"active" yaml:"active"`
	Immediate  bool              `json:"immediate,omitempty" yaml:"immediate,omitempty"`
	Schedule   *timer.Schedule   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	References []Key             `json:"references,omitempty" yaml:"references,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Children   []Entity          `json:"children,omitempty" yaml:"children,omitempty"`
}

func (e *Entity) Key() Key {
	return Key{Kind: e.Kind, Id: e.Id}
}

// Deep copy, registry callers never share memory with the registry.
func (e *Entity) Clone() *Entity {
	clone := *e

	if e.Schedule != nil {
		schedule := *e.Schedule
		clone.Schedule = &schedule
	}

	if e.References != nil {
		clone.References = append([]Key(nil), e.References...)
	}

	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}

	if e.Children != nil {
		clone.Children = make([]Entity, len(e.Children))
		for i := range e.Children {
			clone.Children[i] = *e.Children[i].Clone()
		}
	}

	return &clone
}

// Calls fn for every nested child, depth first.
func (e *Entity) walkChildren(fn func(child *Entity)) {
	for i := range e.Children {
		child := &e.Children[i]
		fn(child)
		child.walkChildren(fn)
	}
}

// Structural validation which does not need the registry.
// Schedules are not checked, an entity with a bad schedule is stored
// but never becomes due.
func (e *Entity) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("%w: entity %d has no kind", ErrInvalidEntity, e.Id)
	}

	var err error
	e.walkChildren(func(child *Entity) {
		if err == nil && child.Kind == "" {
			err = fmt.Errorf("%w: child %d of %s has no kind", ErrInvalidEntity, child.Id, e.Key())
		}
	})
	return err
}

// Validates the schedule, if any.
func (e *Entity) ValidateSchedule() error {
	if e.Schedule != nil {
		if err := e.Schedule.Validate(); err != nil {
			return fmt.Errorf("%s: %w", e.Key(), err)
		}
	}
	return nil
}
