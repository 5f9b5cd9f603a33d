package registration

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.temporal.io/sdk/workflow"
)

// MaxTaskParams is the maximum number of task parameters supported, not
// counting a leading context.Context. Tasks beyond this are skipped.
const MaxTaskParams = 6

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	workflowType = reflect.TypeOf((*workflow.Context)(nil)).Elem()
)

// ContainerRef identifies the code container a handle was loaded from.
// A handle's lifetime is bounded by its container's.
type ContainerRef interface {
	ID() string
	Generation() int64
}

// Registrar is the entry point contract for plugins. Each plugin module
// exports
//
//	func RegisterPlugin(r registration.Registrar)
//
// and enumerates its tasks and workflow types through it.
type Registrar interface {
	// RegisterTask registers a task function under the given name.
	RegisterTask(name string, fn interface{})

	// RegisterWorkflow registers a workflow function under the given name.
	RegisterWorkflow(name string, fn interface{})
}

// TaskHandle is a callable task extracted from a loaded module.
type TaskHandle struct {
	Name       string
	Fn         interface{}
	InputTypes []reflect.Type
	OutputType reflect.Type
	Origin     string
	Container  ContainerRef
}

// WorkflowTypeHandle is a workflow type extracted from a loaded module.
type WorkflowTypeHandle struct {
	Name      string
	Fn        interface{}
	Origin    string
	Container ContainerRef
}

// DescribeTask validates a task function and builds its handle, preserving
// parameter and return type information.
func DescribeTask(name string, fn interface{}, origin string, c ContainerRef) (TaskHandle, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return TaskHandle{}, fmt.Errorf("task %q: not a function", name)
	}

	inputs := make([]reflect.Type, 0, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in.Implements(contextType) && in.Kind() == reflect.Interface {
			continue
		}
		inputs = append(inputs, in)
	}
	if len(inputs) > MaxTaskParams {
		return TaskHandle{}, fmt.Errorf("task %q: %d parameters exceeds limit of %d", name, len(inputs), MaxTaskParams)
	}

	var out reflect.Type
	switch t.NumOut() {
	case 0:
	case 1:
		if !t.Out(0).Implements(errorType) {
			out = t.Out(0)
		}
	case 2:
		if !t.Out(1).Implements(errorType) {
			return TaskHandle{}, fmt.Errorf("task %q: second return value must be error", name)
		}
		out = t.Out(0)
	default:
		return TaskHandle{}, fmt.Errorf("task %q: too many return values", name)
	}

	return TaskHandle{
		Name:       name,
		Fn:         fn,
		InputTypes: inputs,
		OutputType: out,
		Origin:     origin,
		Container:  c,
	}, nil
}

// DescribeWorkflow validates a workflow function and builds its handle. A
// workflow is accepted when its first parameter is workflow.Context, or when
// its declared name ends in "Workflow" and it is a function.
func DescribeWorkflow(name string, fn interface{}, origin string, c ContainerRef) (WorkflowTypeHandle, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return WorkflowTypeHandle{}, fmt.Errorf("workflow %q: not a function", name)
	}
	if t.NumIn() > 0 && t.In(0) == workflowType {
		return WorkflowTypeHandle{Name: name, Fn: fn, Origin: origin, Container: c}, nil
	}
	if strings.HasSuffix(name, "Workflow") {
		return WorkflowTypeHandle{Name: name, Fn: fn, Origin: origin, Container: c}, nil
	}
	return WorkflowTypeHandle{}, fmt.Errorf("workflow %q: first parameter is not workflow.Context", name)
}
