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

package scheduler

// This file contains a scheduleri implementation for 'lsf': supervising jobs
// via IBM's (ne Platform's) Load Sharing Facility.

import (
	"encoding/csv"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/VertebrateResequencing/bherd/internal"
	"github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// markers LSF writes in to a job's output file, telling us how it ended
	runlimitMarker = "TERM_RUNLIMIT: job killed after reaching LSF run time limit"
	successMarker  = "Successfully completed."

	// markers in command output telling us LSF is too busy to answer now
	busyDaemonMarker = "batch system daemon not responding"
	busyWaitMarker   = "Please wait ..."

	// marker bhist prints when it has no record of a job
	bhistUnknownMarker = "No matching job found"

	historyCacheExpiry = 5 * time.Minute
)

// lsf is our implementer of scheduleri
type lsf struct {
	config        *ConfigLSF
	months        map[string]time.Month
	dateRegex     *regexp.Regexp
	bsubRegex     *regexp.Regexp
	notFoundRegex *regexp.Regexp
	bsubExe       string
	bjobsExe      string
	bhistExe      string
	bkillExe      string
	user          string
	histories     *gocache.Cache
	busy          *backoff.Backoff
	sleep         func(time.Duration)
	log15.Logger
}

// ConfigLSF represents the configuration options required by the LSF
// scheduler. All fields have usable defaults.
type ConfigLSF struct {
	// BatchQuerySize is the maximum number of job ids to pass to a single
	// status query invocation.
	BatchQuerySize int

	// BusyBackoff is how long to wait before retrying when LSF says it is too
	// busy to answer a query. Such retries continue indefinitely.
	BusyBackoff time.Duration
}

// initialize finds the real paths to the main LSF exes and compiles our
// parsers.
func (s *lsf) initialize(config interface{}, logger log15.Logger) error {
	s.config = config.(*ConfigLSF)
	s.Logger = logger.New("scheduler", "lsf")

	if s.config.BatchQuerySize <= 0 {
		s.config.BatchQuerySize = 1000
	}
	if s.config.BusyBackoff <= 0 {
		s.config.BusyBackoff = 180 * time.Second
	}

	for exe, dest := range map[string]*string{
		"bsub":  &s.bsubExe,
		"bjobs": &s.bjobsExe,
		"bhist": &s.bhistExe,
		"bkill": &s.bkillExe,
	} {
		path, err := exec.LookPath(exe)
		if err != nil {
			return Error{"lsf", "initialize", fmt.Sprintf("could not find %s in $PATH: %s", exe, err)}
		}
		*dest = path
	}

	s.compile()

	// shared clusters can recycle job ids between users, so status and
	// history queries are filtered to our own jobs
	if user, err := internal.Username(); err == nil {
		s.user = user
	} else {
		s.Warn("could not determine the current user; scheduler queries will not be filtered", "err", err)
	}

	s.histories = gocache.New(historyCacheExpiry, 2*historyCacheExpiry)

	// Min == Max gives us the fixed interval the busy-retry contract calls
	// for, while leaving the knob for a jittered policy in one place
	s.busy = &backoff.Backoff{
		Min:    s.config.BusyBackoff,
		Max:    s.config.BusyBackoff,
		Factor: 1,
	}
	s.sleep = time.Sleep

	return nil
}

// compile sets up the parsing state shared by all the LSF output handling.
func (s *lsf) compile() {
	s.months = map[string]time.Month{
		"Jan": time.January,
		"Feb": time.February,
		"Mar": time.March,
		"Apr": time.April,
		"May": time.May,
		"Jun": time.June,
		"Jul": time.July,
		"Aug": time.August,
		"Sep": time.September,
		"Oct": time.October,
		"Nov": time.November,
		"Dec": time.December,
	}
	s.dateRegex = regexp.MustCompile(`(\w+)\s+(\d+) (\d+):(\d+):(\d+)`)
	s.bsubRegex = regexp.MustCompile(`Job <(\d+)>`)
	s.notFoundRegex = regexp.MustCompile(`Job <(\d+)> is not found`)
}

// submit runs bsub and parses the job id out of its response.
func (s *lsf) submit(queue, params, outPath, cmd string) (string, error) {
	args := []string{"-q", queue, "-J", outPath, "-o", outPath}
	args = append(args, s.splitParams(params)...)
	args = append(args, EscapeCommand(cmd))

	bsubcmd := exec.Command(s.bsubExe, args...) // #nosec
	bsubout, err := bsubcmd.Output()
	if err != nil {
		return "", Error{"lsf", "submit", fmt.Sprintf("failed to run %s %s: %s", s.bsubExe, args, err)}
	}

	matches := s.bsubRegex.FindStringSubmatch(string(bsubout))
	if len(matches) != 2 {
		return "", Error{"lsf", "submit", fmt.Sprintf("%s: bsub returned unexpected output: %s", ErrBadSubmit, bsubout)}
	}

	s.Debug("submitted", "id", matches[1], "queue", queue, "out", outPath)
	return matches[1], nil
}

// splitParams splits the user's verbatim submission parameters in to
// arguments, keeping quoted strings together.
func (s *lsf) splitParams(params string) []string {
	if params == "" {
		return nil
	}
	r := csv.NewReader(strings.NewReader(params))
	r.Comma = ' '
	fields, err := r.Read()
	if err != nil {
		s.Warn("submission parameters ignored", "params", params, "err", err)
		return nil
	}
	return fields
}

// query runs bjobs on the given ids in batches, normalising LSF's states in
// to our canonical 4 and noting the ids LSF no longer knows about. If LSF
// reports itself too busy to answer, we sleep and retry that batch,
// indefinitely.
func (s *lsf) query(ids []string) (map[string]JobState, map[string]bool, error) {
	states := make(map[string]JobState)
	missing := make(map[string]bool)

	for start := 0; start < len(ids); start += s.config.BatchQuerySize {
		end := start + s.config.BatchQuerySize
		if end > len(ids) {
			end = len(ids)
		}

		out, err := s.runBjobs(ids[start:end])
		if err != nil {
			return nil, nil, err
		}
		s.parseBjobs(out, states, missing)
	}

	return states, missing, nil
}

// runBjobs runs a single bjobs invocation, retrying for as long as LSF
// reports itself busy. bjobs exits non-zero when some of the queried jobs are
// unknown to it, so a command error with parseable output is not a failure.
func (s *lsf) runBjobs(ids []string) (string, error) {
	args := s.userArgs()
	args = append(args, ids...)

	for {
		bjcmd := exec.Command(s.bjobsExe, args...) // #nosec
		bjout, err := bjcmd.CombinedOutput()
		out := string(bjout)

		if strings.Contains(out, busyDaemonMarker) || strings.Contains(out, busyWaitMarker) {
			wait := s.busy.Duration()
			s.Warn("LSF busy, will retry the status query", "wait", wait)
			s.sleep(wait)
			continue
		}
		s.busy.Reset()

		if err != nil && len(bjout) == 0 {
			return "", Error{"lsf", "query", fmt.Sprintf("failed to run %s: %s", s.bjobsExe, err)}
		}
		return out, nil
	}
}

// userArgs returns the flag that limits a query to our own jobs, if we know
// who we are.
func (s *lsf) userArgs() []string {
	if s.user == "" {
		return nil
	}
	return []string{"-u", s.user}
}

// parseBjobs pulls the JOBID and STAT columns out of bjobs output lines, and
// the ids of "is not found" complaints. An unparseable line is logged and
// skipped, so one garbled entry doesn't fail the whole cycle.
func (s *lsf) parseBjobs(out string, states map[string]JobState, missing map[string]bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "JOBID") {
			continue
		}

		if matches := s.notFoundRegex.FindStringSubmatch(line); len(matches) == 2 {
			missing[matches[1]] = true
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if _, err := strconv.ParseUint(fields[0], 10, 64); err != nil {
			continue
		}

		state, ok := normaliseState(fields[2])
		if !ok {
			s.Warn("unexpected status in bjobs output, job treated as unchanged", "line", line)
			continue
		}
		states[fields[0]] = state
	}
}

// normaliseState maps LSF's job states to our canonical 4. Suspended jobs
// map to the state they were in before suspension.
func normaliseState(stat string) (JobState, bool) {
	switch stat {
	case "PEND", "PSUSP":
		return JobStatePend, true
	case "RUN", "USUSP", "SSUSP":
		return JobStateRun, true
	case "DONE":
		return JobStateDone, true
	case "EXIT":
		return JobStateExit, true
	default:
		return "", false
	}
}

// history runs bhist -l for the given job, falling back to searching LSF's
// archived event logs (much slower) if the live query doesn't know the job.
// Results are cached for a few minutes, since one reconciliation may need a
// job's history more than once.
func (s *lsf) history(id string) (*History, error) {
	if cached, found := s.histories.Get(id); found {
		return cached.(*History), nil
	}

	out, err := s.runBhist(id, false)
	if err != nil {
		return nil, err
	}
	if strings.Contains(out, bhistUnknownMarker) {
		out, err = s.runBhist(id, true)
		if err != nil {
			return nil, err
		}
		if strings.Contains(out, bhistUnknownMarker) {
			return nil, Error{"lsf", "history", ErrJobNotFound}
		}
	}

	h := s.parseBhist(out)
	s.histories.Set(id, h, gocache.DefaultExpiration)
	return h, nil
}

// runBhist runs bhist -l on the given id, with -n 0 to search all archived
// event log files if archived is true. Busy responses are retried like
// queries are.
func (s *lsf) runBhist(id string, archived bool) (string, error) {
	args := append(s.userArgs(), "-l")
	if archived {
		args = append(args, "-n", "0")
	}
	args = append(args, id)

	for {
		bhcmd := exec.Command(s.bhistExe, args...) // #nosec
		bhout, err := bhcmd.CombinedOutput()
		out := string(bhout)

		if strings.Contains(out, busyDaemonMarker) || strings.Contains(out, busyWaitMarker) {
			wait := s.busy.Duration()
			s.Warn("LSF busy, will retry the history query", "wait", wait)
			s.sleep(wait)
			continue
		}
		s.busy.Reset()

		if err != nil && len(bhout) == 0 {
			return "", Error{"lsf", "history", fmt.Sprintf("failed to run %s %s: %s", s.bhistExe, args, err)}
		}
		return out, nil
	}
}

// parseBhist extracts start time, end time, run seconds and termination kind
// from bhist -l output. bhist wraps long lines, but the event lines we care
// about always start with their timestamp.
func (s *lsf) parseBhist(out string) *History {
	h := &History{}
	inSummary := false

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.Contains(line, "Dispatched to") || strings.Contains(line, "Starting (Pid"):
			if h.StartTime == 0 {
				h.StartTime = s.parseEventTime(line)
			}
		case strings.Contains(line, "Done successfully"):
			if h.EndTime == 0 {
				h.EndTime = s.parseEventTime(line)
			}
			h.Kind = TermSuccess
		case strings.Contains(line, "Exited with exit code") ||
			strings.Contains(line, "Exited by signal") ||
			strings.Contains(line, "Completed <exit>"):
			if h.EndTime == 0 {
				h.EndTime = s.parseEventTime(line)
			}
			if h.Kind == TermUnknown {
				h.Kind = TermOtherFailure
			}
		case strings.Contains(line, "Summary of time in seconds spent in various states"):
			inSummary = true
		case inSummary:
			fields := strings.Fields(line)
			if len(fields) >= 7 && fields[0] != "PEND" {
				if run, err := strconv.Atoi(fields[2]); err == nil {
					h.RunSeconds = run
					inSummary = false
				}
			}
		}
	}

	if strings.Contains(out, "TERM_RUNLIMIT") {
		h.Kind = TermRuntimeLimit
	}

	return h
}

// parseEventTime turns a bhist event line's leading "Mon DD HH:MM:SS"
// timestamp in to epoch seconds. bhist omits the year; we assume the current
// one unless that would put the event more than a day in the future.
func (s *lsf) parseEventTime(line string) int64 {
	matches := s.dateRegex.FindStringSubmatch(line)
	if len(matches) != 6 {
		return 0
	}
	month, ok := s.months[matches[1]]
	if !ok {
		return 0
	}
	day, _ := strconv.Atoi(matches[2])
	hour, _ := strconv.Atoi(matches[3])
	min, _ := strconv.Atoi(matches[4])
	sec, _ := strconv.Atoi(matches[5])

	now := time.Now()
	t := time.Date(now.Year(), month, day, hour, min, sec, 0, time.Local)
	if t.After(now.Add(24 * time.Hour)) {
		t = time.Date(now.Year()-1, month, day, hour, min, sec, 0, time.Local)
	}
	return t.Unix()
}

// cancel bkills the given job. "Job has already finished" is not a failure.
func (s *lsf) cancel(id string) error {
	killcmd := exec.Command(s.bkillExe, id) // #nosec
	out, err := killcmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "already finished") {
		return Error{"lsf", "cancel", fmt.Sprintf("failed to run %s %s: %s (%s)", s.bkillExe, id, err, out)}
	}
	return nil
}
