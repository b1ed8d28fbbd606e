// Copyright © 2021 Genome Research Limited
// Author: Sendu Bala <sb10@sanger.ac.uk>.
//
//  This file is part of bherd.
//
//  bherd is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  bherd is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with bherd. If not, see <http://www.gnu.org/licenses/>.

/*
Package supervise implements bherd's core: the per-job state machine and the
top level actions that drive it.

A Reconciler carries out single reconciliation cycles: load the ledger, ask
the scheduler about every job that isn't already complete, apply the state
transition table, classify fresh crashes as retriable, promotable or
terminal, and atomically rewrite the ledger's status file. Between cycles the
ledger is the ground truth; the scheduler is only ever a source of
observations.

A Supervisor composes the Reconciler with the scheduler adapter and the
ledger lock to implement the user-facing actions: push, make, wait,
pushCrashed, check, stop, chill, time, crashed and clean.
*/
package supervise

import (
	"github.com/VertebrateResequencing/bherd/ledger"
	"github.com/VertebrateResequencing/bherd/scheduler"
	"github.com/inconshreveable/log15"
)

// Err* constants are found in the returned Errors under err.Err, so you can
// cast and check if it's a certain type of error.
var (
	ErrAlreadyExists   = "ledger files for this job list already exist; choose another name, or clean first"
	ErrNoCommands      = "no commands found in the job file"
	ErrBadTransition   = "impossible job state transition; the ledger does not match the scheduler"
	ErrNegativeRuntime = "computed a negative runtime for a job"
	ErrStillActive     = "jobs are still pending or running"
	ErrCrashed         = "some jobs crashed and exhausted their resubmissions"
	ErrBadQueue        = "queue is not in the configured queue list"
)

// Error records an error and the job list and operation that caused it.
type Error struct {
	List string // the job list's name
	Op   string // name of the method
	Err  string // one of our Err* vars
}

func (e Error) Error() string {
	return "supervise(" + e.List + ") " + e.Op + "(): " + e.Err
}

// Batch is how the supervisor sees the cluster scheduler. It is satisfied by
// *scheduler.Scheduler; tests substitute their own.
type Batch interface {
	// Submit submits cmd to the given queue with the given verbatim extra
	// parameters, directing job output to outPath, and returns the
	// scheduler's id for the new job.
	Submit(queue, params, outPath, cmd string) (string, error)

	// Query returns the current state of the given job ids, and a set of the
	// ids the scheduler no longer knows about.
	Query(ids []string) (map[string]scheduler.JobState, map[string]bool, error)

	// History returns what the scheduler remembers about a job.
	History(id string) (*scheduler.History, error)

	// Cancel asks the scheduler to kill a job.
	Cancel(id string) error

	// ClassifyOutput classifies a job's termination from its output file.
	ClassifyOutput(outPath string) scheduler.TerminationKind
}

// Options are the tunables of a supervised job list, plumbed through from
// config and command line flags.
type Options struct {
	// Queues is the scheduler's queue names ordered by increasing run time
	// limit; jobs killed for exceeding a queue's limit get promoted to the
	// next one in this list.
	Queues []string

	// MaxResubmissions caps how many times a job may crash: once its fail
	// count reaches this, it is declared a lost cause and not submitted again.
	MaxResubmissions int

	// NoResubmitOnLimit stops jobs that exceeded a queue's run time limit
	// from being resubmitted at all.
	NoResubmitOnLimit bool

	// ResubmitToSameQueue makes runtime-limited jobs retry on their current
	// queue instead of being promoted.
	ResubmitToSameQueue bool
}

// Completion summarises a reconciliation: has the job list reached a final
// state, and of what kind?
type Completion int

// Completion values.
const (
	Active     Completion = 0  // jobs are still pending or running
	AllDone    Completion = 1  // every job completed successfully
	AllCrashed Completion = -1 // nothing left to do, at least one job hard-failed
	AllWaiting Completion = -2 // nothing running, but crashed jobs await resubmission
)

// Tallies counts jobs per state as of one reconciliation.
type Tallies struct {
	Pend      int
	Run       int
	Done      int
	Failed    int // jobs in EXIT state
	Retriable int // the subset of Failed that can be resubmitted
}

// Resubmission identifies a crashed job that should be submitted again, and
// the queue it should go to (which differs from its current queue when the
// crash was a queue run time limit).
type Resubmission struct {
	Index int // position in the catalog
	ID    string
	Queue string
}

// Result is everything one reconciliation worked out.
type Result struct {
	Tallies    Tallies
	Completion Completion
	Retriable  []*Resubmission
	Catalog    []*ledger.Job
	Statuses   []*ledger.Status
}

// Reconciler is the state transition engine. Given the current ledger and
// fresh scheduler observations, it computes each job's new state.
type Reconciler struct {
	batch Batch
	store *ledger.Store
	opts  Options
	log15.Logger
}

// NewReconciler creates a Reconciler over the given scheduler and ledger.
func NewReconciler(batch Batch, store *ledger.Store, opts Options, logger log15.Logger) *Reconciler {
	return &Reconciler{
		batch:  batch,
		store:  store,
		opts:   opts,
		Logger: logger.New("joblist", store.Name()),
	}
}

// Reconcile carries out one reconciliation cycle and atomically rewrites the
// status file. The caller must hold the job list's lock.
//
// Jobs already DONE are skipped. For every other job we adopt the state the
// scheduler reports; jobs the scheduler has forgotten are resolved through
// their history and output file instead. A job we could get no observation
// for at all is left unchanged for this cycle.
func (r *Reconciler) Reconcile() (*Result, error) {
	catalog, statuses, err := r.store.Load()
	if err != nil {
		return nil, err
	}

	var probe []string
	for _, st := range statuses {
		if st.State != scheduler.JobStateDone {
			probe = append(probe, st.ID)
		}
	}

	var states map[string]scheduler.JobState
	var missing map[string]bool
	if len(probe) > 0 {
		states, missing, err = r.batch.Query(probe)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{Catalog: catalog, Statuses: statuses}
	for i, st := range statuses {
		if st.State == scheduler.JobStateDone {
			continue
		}

		newState := st.State
		var hist *scheduler.History
		switch {
		case states[st.ID] != "":
			newState = states[st.ID]
		case missing[st.ID]:
			hist, err = r.batch.History(st.ID)
			if err != nil {
				r.Warn("scheduler has no memory of job; treated as unchanged this cycle", "job", st.InternalName, "id", st.ID, "err", err)
			} else if hist.Kind == scheduler.TermSuccess {
				newState = scheduler.JobStateDone
			} else {
				newState = scheduler.JobStateExit
			}
		default:
			r.Debug("no observation for job; treated as unchanged this cycle", "job", st.InternalName, "id", st.ID)
		}

		if err = r.transition(catalog[i], st, newState, hist); err != nil {
			return nil, err
		}

		if st.State == scheduler.JobStateExit {
			r.classify(i, catalog[i], st, hist, result)
		}
	}

	if err = r.store.SaveStatus(statuses); err != nil {
		return nil, err
	}

	r.tally(result)
	return result, nil
}

// transition applies the state transition table to one job. hist may be nil;
// it is fetched on demand when a runtime must be extracted.
func (r *Reconciler) transition(job *ledger.Job, st *ledger.Status, newState scheduler.JobState, hist *scheduler.History) error {
	old := st.State
	if old == newState {
		return nil
	}

	// the only disallowed pairs: nothing comes back from DONE, and a
	// running job can't go back to pending
	if old == scheduler.JobStateDone || (old == scheduler.JobStateRun && newState == scheduler.JobStatePend) {
		r.Error("impossible transition", "job", st.InternalName, "id", st.ID, "from", old, "to", newState)
		return Error{r.store.Name(), "Reconcile", ErrBadTransition}
	}

	r.Debug("transition", "job", st.InternalName, "id", st.ID, "from", old, "to", newState)

	if newState == scheduler.JobStateExit && old != scheduler.JobStateExit {
		// count each observed crash exactly once; an EXIT job still in EXIT
		// next cycle hasn't crashed again
		st.FailCount++
	}

	st.State = newState

	if newState == scheduler.JobStateDone && st.Runtime == ledger.UnknownRuntime {
		runtime, err := r.extractRuntime(st, hist)
		if err != nil {
			return err
		}
		st.Runtime = runtime
	}

	return nil
}

// extractRuntime works out how long a newly-DONE job ran for. Prefers the
// scheduler's own accounting; falls back to end minus start. A real duration
// of 0s records as 1 so that a recorded runtime always reads as "finished".
func (r *Reconciler) extractRuntime(st *ledger.Status, hist *scheduler.History) (int, error) {
	if hist == nil {
		var err error
		hist, err = r.batch.History(st.ID)
		if err != nil {
			r.Warn("job is complete but its runtime could not be recovered", "job", st.InternalName, "id", st.ID, "err", err)
			return ledger.UnknownRuntime, nil
		}
	}

	runtime := hist.RunSeconds
	if runtime <= 0 {
		runtime = int(hist.EndTime - hist.StartTime)
	}
	if runtime < 0 {
		r.Error("scheduler reported the job ended before it started", "job", st.InternalName, "id", st.ID, "start", hist.StartTime, "end", hist.EndTime)
		return 0, Error{r.store.Name(), "Reconcile", ErrNegativeRuntime}
	}
	if runtime == 0 {
		runtime = 1
	}
	return runtime, nil
}

// classify decides the fate of a job sitting in EXIT: terminal, retriable on
// its current queue, or retriable with promotion to the next longer queue.
func (r *Reconciler) classify(index int, job *ledger.Job, st *ledger.Status, hist *scheduler.History, result *Result) {
	if st.FailCount >= r.opts.MaxResubmissions {
		return
	}

	kind := r.batch.ClassifyOutput(job.InternalName)
	if kind != scheduler.TermRuntimeLimit && hist != nil && hist.Kind == scheduler.TermRuntimeLimit {
		kind = scheduler.TermRuntimeLimit
	}

	queue := job.Queue
	if kind == scheduler.TermRuntimeLimit {
		if r.opts.NoResubmitOnLimit {
			r.Info("job exceeded its queue's run time limit and resubmission on limit is disabled", "job", st.InternalName, "id", st.ID)
			st.FailCount = r.opts.MaxResubmissions
			return
		}
		if !r.opts.ResubmitToSameQueue {
			queue = r.promote(job, st)
		}
	}

	result.Retriable = append(result.Retriable, &Resubmission{Index: index, ID: st.ID, Queue: queue})
}

// promote returns the queue one step up the ordered list from the job's
// current one. At the top of the list there is nowhere to go, so the job
// retries where it is.
func (r *Reconciler) promote(job *ledger.Job, st *ledger.Status) string {
	for i, q := range r.opts.Queues {
		if q == job.Queue {
			if i+1 < len(r.opts.Queues) {
				return r.opts.Queues[i+1]
			}
			break
		}
	}
	r.Warn("job exceeded the run time limit of the longest queue; retrying there", "job", st.InternalName, "id", st.ID, "queue", job.Queue)
	return job.Queue
}

// tally counts states and derives the overall Completion.
func (r *Reconciler) tally(result *Result) {
	t := &result.Tallies
	for _, st := range result.Statuses {
		switch st.State {
		case scheduler.JobStatePend:
			t.Pend++
		case scheduler.JobStateRun:
			t.Run++
		case scheduler.JobStateDone:
			t.Done++
		case scheduler.JobStateExit:
			t.Failed++
		}
	}
	t.Retriable = len(result.Retriable)

	switch {
	case t.Done == len(result.Statuses):
		result.Completion = AllDone
	case t.Pend == 0 && t.Run == 0 && t.Retriable > 0:
		result.Completion = AllWaiting
	case t.Pend == 0 && t.Run == 0 && t.Failed > 0:
		result.Completion = AllCrashed
	default:
		result.Completion = Active
	}
}
