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
Package scheduler lets bherd interact with the cluster's job scheduler to
submit jobs, query their state, recover their history and cancel them.

All the textual parsing of the scheduler's command line tools is isolated
here; the rest of the system consumes the typed records this package returns.

It's a pseudo plug-in system in that it is designed so that you can easily add
a go file that implements the methods of the scheduleri interface, to support
a new job scheduler. There is no dynamic loading of these go files; they all
belong to the scheduler package, and the correct one is used at run time. To
"register" a new scheduleri implementation you must add a case for it to New()
and rebuild.

    import "github.com/VertebrateResequencing/bherd/scheduler"
    s, err := scheduler.New("lsf", &scheduler.ConfigLSF{})
    id, err := s.Submit("short", "", "mylist/1/o.0", "echo hello")
*/
package scheduler

import (
	"os"
	"strings"

	"github.com/inconshreveable/log15"
)

// JobState is one of the 4 canonical states a submitted job can be observed
// in. Scheduler-specific states (eg. suspended jobs) are normalised to one of
// these by the adapter.
type JobState string

// JobState* constants represent all the possible JobStates.
const (
	JobStatePend JobState = "PEND"
	JobStateRun  JobState = "RUN"
	JobStateDone JobState = "DONE"
	JobStateExit JobState = "EXIT"
)

// TerminationKind classifies why a finished job stopped running.
type TerminationKind int

// Term* constants represent all the possible TerminationKinds.
const (
	TermUnknown TerminationKind = iota
	TermSuccess
	TermRuntimeLimit
	TermOtherFailure
)

// Err* constants are found in the returned Errors under err.Err, so you can
// cast and check if it's a certain type of error.
var (
	ErrBadScheduler = "unknown scheduler name"
	ErrBadSubmit    = "scheduler did not report a job id for the submission"
	ErrJobNotFound  = "scheduler has no record of the job"
	ErrParse        = "could not parse scheduler output"
)

// Error records an error and the operation and scheduler that caused it.
type Error struct {
	Scheduler string // the scheduler's Name
	Op        string // name of the method
	Err       string // one of our Err* vars
}

func (e Error) Error() string {
	return "scheduler(" + e.Scheduler + ") " + e.Op + "(): " + e.Err
}

// History describes what the scheduler remembers about a finished (or
// running) job.
type History struct {
	StartTime  int64           // epoch seconds the job started running, 0 if never dispatched
	EndTime    int64           // epoch seconds the job stopped, 0 if still running
	RunSeconds int             // the scheduler's own accounting of seconds spent running, 0 if unreported
	Kind       TerminationKind // TermUnknown if the job has not terminated
}

// scheduleri interface must be satisfied to add support for a particular job
// scheduler.
type scheduleri interface {
	initialize(config interface{}, logger log15.Logger) error         // find the scheduler client exes and compile parsers
	submit(queue, params, outPath, cmd string) (string, error)        // achieve the aims of Submit()
	query(ids []string) (map[string]JobState, map[string]bool, error) // achieve the aims of Query()
	history(id string) (*History, error)                              // achieve the aims of History()
	cancel(id string) error                                           // achieve the aims of Cancel()
}

// Scheduler gives you access to all of the methods you'll need to interact
// with a job scheduler.
type Scheduler struct {
	impl scheduleri
	Name string
	log15.Logger
}

// New creates a new Scheduler to interact with the given job scheduler. The
// only possible name so far is "lsf". You must also provide a config struct
// appropriate for your chosen scheduler, eg. for the lsf scheduler you will
// provide a ConfigLSF.
//
// Providing a logger allows for debug messages to be logged somewhere, along
// with any "harmless" or unreturnable errors. If not supplied, we use a
// default logger that discards all log messages.
func New(name string, config interface{}, logger ...log15.Logger) (*Scheduler, error) {
	var s *Scheduler
	switch name {
	case "lsf":
		s = &Scheduler{impl: new(lsf)}
	default:
		return nil, Error{name, "New", ErrBadScheduler}
	}

	var l log15.Logger
	if len(logger) == 1 {
		l = logger[0].New()
	} else {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	s.Logger = l

	s.Name = name
	return s, s.impl.initialize(config, l)
}

// Submit submits the given shell command to the given queue, arranging for
// the job's stdout and stderr to be written to outPath, and returns the
// scheduler-assigned job id. params are additional submission parameters
// passed through to the scheduler verbatim. The command is escaped such that
// it survives the extra round of shell interpretation the scheduler applies.
func (s *Scheduler) Submit(queue, params, outPath, cmd string) (string, error) {
	return s.impl.submit(queue, params, outPath, cmd)
}

// Query asks the scheduler the current state of the given job ids. The first
// returned map has an entry per id the scheduler still knows about; ids it no
// longer recognises are keys of the second map. Queries are batched
// internally, so you can supply any number of ids.
func (s *Scheduler) Query(ids []string) (map[string]JobState, map[string]bool, error) {
	return s.impl.query(ids)
}

// History asks the scheduler for what it remembers about the given job:
// start and end times, its own runtime accounting, and how the job
// terminated. Returns an Error with Err ErrJobNotFound if the scheduler has
// no record of the job at all.
func (s *Scheduler) History(id string) (*History, error) {
	return s.impl.history(id)
}

// Cancel asks the scheduler to kill the given job. An error here is usually
// harmless (the job may simply have already finished), so callers are
// expected to log and carry on.
func (s *Scheduler) Cancel(id string) error {
	return s.impl.cancel(id)
}

// ClassifyOutput reads the job output file at the given path and classifies
// how the job terminated based on the markers the scheduler writes there. An
// unreadable file classifies as TermOtherFailure.
func (s *Scheduler) ClassifyOutput(outPath string) TerminationKind {
	content, err := os.ReadFile(outPath)
	if err != nil {
		s.Debug("could not read job output file", "path", outPath, "err", err)
		return TermOtherFailure
	}
	return ClassifyOutput(string(content))
}

// ClassifyOutput classifies a job's termination from the text of its
// scheduler-written output file.
func ClassifyOutput(text string) TerminationKind {
	switch {
	case strings.Contains(text, runlimitMarker):
		return TermRuntimeLimit
	case strings.Contains(text, successMarker):
		return TermSuccess
	default:
		return TermOtherFailure
	}
}
