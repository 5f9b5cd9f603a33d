package registration

import (
	"sort"

	"github.com/replugio/replug/pkg/log"
)

// Set is the complete registration contributed by one reload: tasks and
// workflow types keyed by declared name. A Set is built single-writer during
// load and treated as immutable once published.
type Set struct {
	Tasks     map[string]TaskHandle
	Workflows map[string]WorkflowTypeHandle
}

// NewSet returns an empty Set.
func NewSet() Set {
	return Set{
		Tasks:     make(map[string]TaskHandle),
		Workflows: make(map[string]WorkflowTypeHandle),
	}
}

// AddTask inserts a task handle. On a duplicate name the last definition
// wins and a warning is recorded.
func (s Set) AddTask(h TaskHandle) {
	if prev, ok := s.Tasks[h.Name]; ok {
		log.Logger.Warn().
			Str("task", h.Name).
			Str("previous", prev.Origin).
			Str("winner", h.Origin).
			Msg("duplicate task name, last definition wins")
	}
	s.Tasks[h.Name] = h
}

// AddWorkflow inserts a workflow handle. On a duplicate name the last
// definition wins and a warning is recorded.
func (s Set) AddWorkflow(h WorkflowTypeHandle) {
	if prev, ok := s.Workflows[h.Name]; ok {
		log.Logger.Warn().
			Str("workflow", h.Name).
			Str("previous", prev.Origin).
			Str("winner", h.Origin).
			Msg("duplicate workflow name, last definition wins")
	}
	s.Workflows[h.Name] = h
}

// Empty reports whether the set contains no tasks and no workflows.
func (s Set) Empty() bool {
	return len(s.Tasks) == 0 && len(s.Workflows) == 0
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := NewSet()
	for name, h := range s.Tasks {
		out.Tasks[name] = h
	}
	for name, h := range s.Workflows {
		out.Workflows[name] = h
	}
	return out
}

// TaskNames returns the registered task names in sorted order.
func (s Set) TaskNames() []string {
	names := make([]string, 0, len(s.Tasks))
	for name := range s.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WorkflowNames returns the registered workflow names in sorted order.
func (s Set) WorkflowNames() []string {
	names := make([]string, 0, len(s.Workflows))
	for name := range s.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
