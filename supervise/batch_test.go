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

// this file has a scripted Batch implementation that plays the role of the
// cluster scheduler in our tests

import (
	"strconv"

	"github.com/VertebrateResequencing/bherd/ledger"
	"github.com/VertebrateResequencing/bherd/scheduler"
	"github.com/inconshreveable/log15"
)

// submission records one Submit call the fake saw.
type submission struct {
	Queue   string
	Params  string
	OutPath string
	Cmd     string
}

// fakeBatch is a Batch whose observations are whatever the test scripted.
type fakeBatch struct {
	states    map[string]scheduler.JobState        // id -> state Query reports
	missing   map[string]bool                      // ids Query reports as unknown
	histories map[string]*scheduler.History        // id -> what History reports
	outputs   map[string]scheduler.TerminationKind // outPath -> what ClassifyOutput reports

	// defaultState, when set, is what Query reports for any id the test
	// didn't script explicitly; handy for "everything keeps crashing" fakes
	defaultState scheduler.JobState

	nextID      int
	submissions []submission
	cancelled   []string
	onQuery     func(calls int) // lets a test change the script between cycles
	queryCalls  int
}

func newFakeBatch() *fakeBatch {
	return &fakeBatch{
		states:    make(map[string]scheduler.JobState),
		missing:   make(map[string]bool),
		histories: make(map[string]*scheduler.History),
		outputs:   make(map[string]scheduler.TerminationKind),
		nextID:    1000,
	}
}

func (f *fakeBatch) Submit(queue, params, outPath, cmd string) (string, error) {
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.submissions = append(f.submissions, submission{Queue: queue, Params: params, OutPath: outPath, Cmd: cmd})
	f.states[id] = scheduler.JobStatePend
	return id, nil
}

func (f *fakeBatch) Query(ids []string) (map[string]scheduler.JobState, map[string]bool, error) {
	f.queryCalls++
	if f.onQuery != nil {
		f.onQuery(f.queryCalls)
	}

	states := make(map[string]scheduler.JobState)
	missing := make(map[string]bool)
	for _, id := range ids {
		switch {
		case f.missing[id]:
			missing[id] = true
		case f.defaultState != "":
			states[id] = f.defaultState
		default:
			if state, ok := f.states[id]; ok {
				states[id] = state
			}
		}
	}
	return states, missing, nil
}

func (f *fakeBatch) History(id string) (*scheduler.History, error) {
	if h, ok := f.histories[id]; ok {
		return h, nil
	}
	return nil, scheduler.Error{Scheduler: "fake", Op: "History", Err: scheduler.ErrJobNotFound}
}

func (f *fakeBatch) Cancel(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBatch) ClassifyOutput(outPath string) scheduler.TerminationKind {
	if kind, ok := f.outputs[outPath]; ok {
		return kind
	}
	return scheduler.TermOtherFailure
}

func testLogger() log15.Logger {
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	return logger
}

// seedLedger writes a ready-made ledger for tests that want to skip Push.
func seedLedger(store *ledger.Store, queue string, entries ...*ledger.Status) ([]*ledger.Job, error) {
	if err := store.Create(); err != nil {
		return nil, err
	}

	var catalog []*ledger.Job
	for i, st := range entries {
		catalog = append(catalog, &ledger.Job{
			ID:           st.ID,
			InternalName: st.InternalName,
			Queue:        queue,
			Command:      "echo " + strconv.Itoa(i),
		})
	}

	if err := store.SaveCatalog(catalog); err != nil {
		return nil, err
	}
	if err := store.SaveStatus(entries); err != nil {
		return nil, err
	}
	if err := store.SaveParams(""); err != nil {
		return nil, err
	}
	return catalog, store.SaveCount(len(entries))
}

// pendStatus makes a fresh PEND Status for tests.
func pendStatus(id, name string) *ledger.Status {
	return &ledger.Status{
		ID:           id,
		InternalName: name,
		State:        scheduler.JobStatePend,
		FailCount:    0,
		Runtime:      ledger.UnknownRuntime,
	}
}
