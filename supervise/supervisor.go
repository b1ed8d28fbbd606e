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

package supervise

// this file implements the top level actions that compose the reconciler,
// ledger and scheduler adapter

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VertebrateResequencing/bherd/ledger"
	"github.com/VertebrateResequencing/bherd/scheduler"
	"github.com/carbocation/runningvariance"
	"github.com/hashicorp/go-multierror"
	"github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"
)

// WaitOptions tune the wait action's polling loop.
type WaitOptions struct {
	// SleepShort is how long to sleep after each of the first FastCycles
	// reconciliations, when jobs tend to finish quickly.
	SleepShort time.Duration

	// SleepLong is how long to sleep between reconciliations after that.
	SleepLong time.Duration

	// FastCycles is how many cycles to sleep SleepShort for.
	FastCycles int
}

// Supervisor implements the user-facing actions on one job list. It is
// single-threaded: concurrency with the cluster is achieved by polling the
// scheduler, never by threads.
type Supervisor struct {
	batch Batch
	store *ledger.Store
	lock  *ledger.Lock
	rec   *Reconciler
	opts  Options
	sleep func(time.Duration)
	log15.Logger
}

// New creates a Supervisor for the job list the given store holds.
func New(batch Batch, store *ledger.Store, lock *ledger.Lock, opts Options, logger log15.Logger) *Supervisor {
	return &Supervisor{
		batch:  batch,
		store:  store,
		lock:   lock,
		rec:    NewReconciler(batch, store, opts, logger),
		opts:   opts,
		sleep:  time.Sleep,
		Logger: logger.New("joblist", store.Name()),
	}
}

// ReleaseLock releases the job list lock if held. It exists so that a signal
// handler can make sure the lock never outlives the process.
func (s *Supervisor) ReleaseLock() {
	s.lock.Release()
}

// Push submits every command in the given file as an independent job on the
// given queue, and records the new job list in the ledger. It refuses to
// touch a job list that already has any ledger file.
func (s *Supervisor) Push(jobFile, queue, params string, keepBackups bool) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	if s.store.Exists() {
		return Error{s.store.Name(), "Push", ErrAlreadyExists}
	}

	cmds, err := readCommands(jobFile)
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		return Error{s.store.Name(), "Push", ErrNoCommands}
	}

	if err = s.store.Create(); err != nil {
		return err
	}

	catalog := make([]*ledger.Job, 0, len(cmds))
	statuses := make([]*ledger.Status, 0, len(cmds))
	for i, cmd := range cmds {
		name := s.store.InternalName(i)
		if err = os.MkdirAll(filepath.Dir(name), 0750); err != nil {
			return err
		}

		id, errs := s.batch.Submit(queue, params, name, cmd)
		if errs != nil {
			return errs
		}
		s.Info("submitted", "job", name, "id", id, "queue", queue)

		catalog = append(catalog, &ledger.Job{ID: id, InternalName: name, Queue: queue, Command: cmd})
		statuses = append(statuses, &ledger.Status{
			ID:           id,
			InternalName: name,
			State:        scheduler.JobStatePend,
			FailCount:    0,
			Runtime:      ledger.UnknownRuntime,
		})
	}

	for _, save := range []func() error{
		func() error { return s.store.SaveCatalog(catalog) },
		func() error { return s.store.SaveStatus(statuses) },
		func() error { return s.store.SaveParams(params) },
		func() error { return s.store.SaveCount(len(catalog)) },
	} {
		if err = save(); err != nil {
			return err
		}
	}

	if keepBackups {
		return s.store.BackupAll()
	}
	return nil
}

// Wait reconciles in a loop until the job list reaches a final state,
// resubmitting retriable crashes as it goes. It prints a one line tally per
// cycle. Returns the final Completion: AllDone on total success, AllCrashed
// when at least one job exhausted its resubmissions.
func (s *Supervisor) Wait(wopts WaitOptions) (Completion, error) {
	pause := &backoff.Backoff{
		Min:    wopts.SleepShort,
		Max:    wopts.SleepLong,
		Factor: 1,
	}

	for cycle := 0; ; cycle++ {
		res, err := s.cycle()
		if err != nil {
			return Active, err
		}

		t := res.Tallies
		s.Info("progress", "pend", t.Pend, "run", t.Run, "done", t.Done, "failed", t.Failed, "retriable", t.Retriable)

		switch res.Completion {
		case AllDone:
			return AllDone, nil
		case AllCrashed:
			return AllCrashed, Error{s.store.Name(), "Wait", ErrCrashed}
		}

		if cycle+1 > wopts.FastCycles {
			pause.Min = wopts.SleepLong
		}
		s.sleep(pause.Duration())
	}
}

// cycle runs one locked reconciliation, resubmitting any retriable crashes
// it finds.
func (s *Supervisor) cycle() (*Result, error) {
	if err := s.lock.Acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Release()

	res, err := s.rec.Reconcile()
	if err != nil {
		return nil, err
	}

	if len(res.Retriable) > 0 {
		if err = s.resubmit(res); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// PushCrashed runs one reconciliation and resubmits every retriable crashed
// job, returning how many were resubmitted.
func (s *Supervisor) PushCrashed() (int, error) {
	if err := s.lock.Acquire(); err != nil {
		return 0, err
	}
	defer s.lock.Release()

	res, err := s.rec.Reconcile()
	if err != nil {
		return 0, err
	}

	if err = s.resubmit(res); err != nil {
		return 0, err
	}
	return len(res.Retriable), nil
}

// resubmit submits each given crashed job again on its classified queue,
// replacing its id in both catalog and status, resetting its state to PEND
// and keeping its fail count. The job's previous output file is removed
// first, so a later classification can never read a stale crash report. A
// resubmission of nothing is a no-op that leaves the ledger untouched.
func (s *Supervisor) resubmit(res *Result) error {
	if len(res.Retriable) == 0 {
		return nil
	}

	params, err := s.store.LoadParams()
	if err != nil {
		return err
	}

	for _, re := range res.Retriable {
		job := res.Catalog[re.Index]
		st := res.Statuses[re.Index]

		if err = os.Remove(job.InternalName); err != nil && !os.IsNotExist(err) {
			return err
		}

		id, errs := s.batch.Submit(re.Queue, params, job.InternalName, job.Command)
		if errs != nil {
			return errs
		}
		s.Info("resubmitted", "job", job.InternalName, "old_id", job.ID, "id", id, "queue", re.Queue, "failures", st.FailCount)

		job.ID = id
		job.Queue = re.Queue
		st.ID = id
		st.State = scheduler.JobStatePend
	}

	if err = s.store.SaveCatalog(res.Catalog); err != nil {
		return err
	}
	return s.store.SaveStatus(res.Statuses)
}

// Check runs a single reconciliation and returns its Result.
func (s *Supervisor) Check() (*Result, error) {
	if err := s.lock.Acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Release()
	return s.rec.Reconcile()
}

// Stop reconciles and then cancels every pending and running job. Individual
// cancellation failures are collected and logged, not fatal: the jobs may
// simply have finished already.
func (s *Supervisor) Stop() error {
	return s.cancel(true)
}

// Chill reconciles and then cancels every pending job, leaving running jobs
// to finish.
func (s *Supervisor) Chill() error {
	return s.cancel(false)
}

func (s *Supervisor) cancel(includeRunning bool) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	res, err := s.rec.Reconcile()
	if err != nil {
		return err
	}

	var errors *multierror.Error
	for _, st := range res.Statuses {
		if st.State != scheduler.JobStatePend && !(includeRunning && st.State == scheduler.JobStateRun) {
			continue
		}
		if errc := s.batch.Cancel(st.ID); errc != nil {
			s.Warn("cancellation failed", "job", st.InternalName, "id", st.ID, "err", errc)
			errors = multierror.Append(errors, errc)
		} else {
			s.Info("cancelled", "job", st.InternalName, "id", st.ID)
		}
	}

	if errors != nil {
		s.Warn("not all jobs could be cancelled", "failures", errors.Len())
	}
	return nil
}

// RuntimeStats summarise how long the jobs of a list have been taking.
type RuntimeStats struct {
	NumFinished int
	NumRunning  int
	Sum         int // total seconds spent by finished jobs
	Mean        int // mean seconds per finished job
	StdDev      int
	MaxFinished int // longest finished job
	MaxRunning  int // longest currently-running job so far
	ETA         int // estimated seconds until the whole list is finished
}

// Time reconciles, then asks the scheduler how long every currently-running
// job has been going, and combines that with the recorded runtimes of
// finished jobs in to summary statistics. The ETA assumes jobs not yet
// finished will take the mean runtime and that the current level of
// parallelism holds.
func (s *Supervisor) Time() (*RuntimeStats, error) {
	if err := s.lock.Acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Release()

	res, err := s.rec.Reconcile()
	if err != nil {
		return nil, err
	}

	stats := &RuntimeStats{}
	rs := runningvariance.NewRunningStat()
	for _, st := range res.Statuses {
		switch st.State {
		case scheduler.JobStateDone:
			if st.Runtime == ledger.UnknownRuntime {
				continue
			}
			stats.NumFinished++
			stats.Sum += st.Runtime
			rs.Push(float64(st.Runtime))
			if st.Runtime > stats.MaxFinished {
				stats.MaxFinished = st.Runtime
			}
		case scheduler.JobStateRun:
			stats.NumRunning++
			runtime := s.runningFor(st)
			if runtime > stats.MaxRunning {
				stats.MaxRunning = runtime
			}
		}
	}

	stats.Mean = int(rs.Mean())
	stats.StdDev = int(rs.StandardDeviation())

	if stats.NumRunning > 0 {
		stats.ETA = stats.Mean * (res.Tallies.Pend + stats.NumRunning) / stats.NumRunning
	}

	return stats, nil
}

// runningFor asks the scheduler how long a live job has been running.
func (s *Supervisor) runningFor(st *ledger.Status) int {
	hist, err := s.batch.History(st.ID)
	if err != nil {
		s.Debug("could not get a running job's history", "job", st.InternalName, "id", st.ID, "err", err)
		return 0
	}
	if hist.RunSeconds > 0 {
		return hist.RunSeconds
	}
	if hist.StartTime > 0 {
		return int(time.Now().Unix() - hist.StartTime)
	}
	return 0
}

// Crashed reconciles and then writes the command of every job currently in
// EXIT to the given file, one per line, ready to be fed back in to push.
func (s *Supervisor) Crashed(outFile string) (int, error) {
	if err := s.lock.Acquire(); err != nil {
		return 0, err
	}
	defer s.lock.Release()

	res, err := s.rec.Reconcile()
	if err != nil {
		return 0, err
	}

	var sb strings.Builder
	n := 0
	for i, st := range res.Statuses {
		if st.State == scheduler.JobStateExit {
			sb.WriteString(res.Catalog[i].Command)
			sb.WriteByte('\n')
			n++
		}
	}

	if err = os.WriteFile(outFile, []byte(sb.String()), 0640); err != nil {
		return 0, err
	}
	return n, nil
}

// Clean removes every trace of a finished job list: the scheduler output
// files, the ledger files and their backups, the lock file, and any
// directories left empty. It refuses while any job is still pending or
// running; stop the list first.
func (s *Supervisor) Clean() error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	_, statuses, err := s.store.Load()
	if err != nil {
		return err
	}

	var dirs []string
	seen := make(map[string]bool)
	var errors *multierror.Error
	for _, st := range statuses {
		if st.State == scheduler.JobStatePend || st.State == scheduler.JobStateRun {
			return Error{s.store.Name(), "Clean", ErrStillActive}
		}
		if dir := filepath.Dir(st.InternalName); !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, st := range statuses {
		if errr := os.Remove(st.InternalName); errr != nil && !os.IsNotExist(errr) {
			errors = multierror.Append(errors, errr)
		}
	}

	// bucket dirs first, then the job list dir itself; only if empty
	for _, dir := range dirs {
		removeIfEmpty(dir)
	}
	removeIfEmpty(s.store.Name())

	if err = s.store.RemoveLedger(); err != nil {
		errors = multierror.Append(errors, err)
	}

	if errr := os.Remove(s.lock.Path()); errr != nil && !os.IsNotExist(errr) {
		errors = multierror.Append(errors, errr)
	}

	return errors.ErrorOrNil()
}

// removeIfEmpty removes a directory if it is empty, and quietly leaves it
// alone otherwise.
func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}

// readCommands reads the user's job file: one opaque shell command per line,
// blank lines skipped.
func readCommands(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cmds []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			cmds = append(cmds, line)
		}
	}
	return cmds, scanner.Err()
}
