// Package tasks provides the built-in baseline tasks and workflows. The
// lifecycle manager substitutes this set whenever a (re)start would
// otherwise leave the worker with nothing registered.
package tasks

import (
	"context"
	"os"
	"runtime"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/replugio/replug/pkg/loader"
	"github.com/replugio/replug/pkg/log"
	"github.com/replugio/replug/pkg/registration"
)

// Baseline task and workflow names.
const (
	EchoTaskName          = "echo"
	SystemInfoTaskName    = "systemInfo"
	HeartbeatWorkflowName = "HeartbeatWorkflow"
)

// HostInfo describes the worker process for diagnostics.
type HostInfo struct {
	Hostname   string `json:"hostname"`
	NumCPU     int    `json:"numCpu"`
	GoVersion  string `json:"goVersion"`
	Goroutines int    `json:"goroutines"`
}

// Echo returns its input unchanged.
func Echo(ctx context.Context, message string) (string, error) {
	return message, nil
}

// SystemInfo reports basic host facts.
func SystemInfo(ctx context.Context) (HostInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return HostInfo{}, err
	}
	return HostInfo{
		Hostname:   hostname,
		NumCPU:     runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}, nil
}

// HeartbeatWorkflow round-trips a message through the echo task. It exists
// so a worker running on the baseline set still exercises the full
// workflow-and-activity path.
func HeartbeatWorkflow(ctx workflow.Context, message string) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out string
	if err := workflow.ExecuteActivity(ctx, EchoTaskName, message).Get(ctx, &out); err != nil {
		return "", err
	}
	return out, nil
}

// Baseline builds the built-in registration set. It owns a detached
// container so baseline handles follow the same lifetime rules as plugin
// handles.
func Baseline() registration.Set {
	c := loader.NewDetachedContainer()
	set := registration.NewSet()

	add := func(name string, fn interface{}) {
		h, err := registration.DescribeTask(name, fn, "builtin", c)
		if err != nil {
			log.Logger.Error().Err(err).Str("task", name).Msg("baseline task rejected")
			return
		}
		set.AddTask(h)
	}
	add(EchoTaskName, Echo)
	add(SystemInfoTaskName, SystemInfo)

	wf, err := registration.DescribeWorkflow(HeartbeatWorkflowName, HeartbeatWorkflow, "builtin", c)
	if err != nil {
		log.Logger.Error().Err(err).Msg("baseline workflow rejected")
		return set
	}
	set.AddWorkflow(wf)
	return set
}
