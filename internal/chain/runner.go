// Package chain runs a task's ordered steps end to end: fail-fast on the
// first unsuccessful step, retrying each step up to its task's configured
// retry count before giving up, and threading extracted parameters from one
// step's response into the next step's substitution context.
package chain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shaharia-lab/taskrun/internal/executor"
	"github.com/shaharia-lab/taskrun/internal/metrics"
	"github.com/shaharia-lab/taskrun/internal/storage"
	"github.com/shaharia-lab/taskrun/internal/tasklog"
)

const defaultRetryDelay = time.Second

// Result is the outcome of one full chain run.
type Result struct {
	Success    bool
	FailedStep string
	Error      string
	Steps      []executor.StepResult
}

// Runner executes a task's step chain.
type Runner struct {
	executor *executor.Executor
	log      *tasklog.Logger
	metrics  *metrics.Recorder
}

// New returns a Runner. metrics may be nil.
func New(exec *executor.Executor, log *tasklog.Logger, rec *metrics.Recorder) *Runner {
	return &Runner{executor: exec, log: log, metrics: rec}
}

// Run executes task's steps in order against ctx, threading extracted
// parameters forward and logging start/step/complete events as it goes.
func (r *Runner) Run(ctx context.Context, task *storage.Task) Result {
	taskIDLabel := strconv.FormatInt(task.ID, 10)
	started := time.Now()

	r.log.Start(task.ID, task.Name)

	stepCtx := executor.Context{}
	results := make([]executor.StepResult, 0, len(task.Steps))

	for i, step := range task.Steps {
		stepStarted := time.Now()
		res := r.runStepWithRetry(ctx, task, step, stepCtx)
		r.metrics.StepDuration(taskIDLabel, step.Name, time.Since(stepStarted).Seconds())
		results = append(results, res)

		r.log.Step(task.ID, task.Name, step.Name, res.Success, stepMessage(res), stepDetails(i, res))

		if !res.Success {
			msg := fmt.Sprintf("chain failed at step %q: %s", step.Name, res.Error)
			r.log.Complete(task.ID, task.Name, false, msg, nil)
			r.metrics.ChainDuration(taskIDLabel, "failure", time.Since(started).Seconds())
			return Result{Success: false, FailedStep: step.Name, Error: res.Error, Steps: results}
		}

		stepCtx = stepCtx.Merge(res.ExtractedParams)
	}

	r.log.Complete(task.ID, task.Name, true, "chain completed successfully", nil)
	r.metrics.ChainDuration(taskIDLabel, "success", time.Since(started).Seconds())
	return Result{Success: true, Steps: results}
}

// runStepWithRetry executes step, retrying up to task.RetryTimes additional
// times (task.RetryTimes+1 attempts total) with a fixed delay between
// attempts, stopping early if ctx is cancelled.
func (r *Runner) runStepWithRetry(ctx context.Context, task *storage.Task, step storage.Step, stepCtx executor.Context) executor.StepResult {
	delay := defaultRetryDelay
	if task.RetryDelaySeconds > 0 {
		delay = time.Duration(task.RetryDelaySeconds) * time.Second
	}

	attempts := task.RetryTimes + 1
	var res executor.StepResult
	for attempt := 0; attempt < attempts; attempt++ {
		res = r.executor.Execute(ctx, step, stepCtx)
		if res.Success {
			return res
		}
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return res
			case <-time.After(delay):
			}
		}
	}
	return res
}

func stepMessage(res executor.StepResult) string {
	if res.Success {
		return "step succeeded"
	}
	return res.Error
}

// stepDetails builds the full step log detail map from a StepResult: the
// spec requires step_index, step_name, url, method, headers, body,
// status_code, response, and extracted_params all be recorded, not just a
// summary.
func stepDetails(index int, res executor.StepResult) map[string]interface{} {
	details := map[string]interface{}{
		"step_index":       index,
		"step_name":        res.Name,
		"url":              res.URL,
		"method":           res.Method,
		"headers":          res.Headers,
		"body":             res.Body,
		"response":         res.Response,
		"extracted_params": res.ExtractedParams,
	}
	if res.HasStatusCode {
		details["status_code"] = res.StatusCode
	}
	return details
}
