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
Package ledger holds bherd's knowledge of a job list: the persistent files
that record what has been submitted and how far each job has got, and the
per-job-list lock that stops two supervisors from fighting over them.

The ledger of a job list named "mylist" is 4 files under the hidden directory
.mylist/ in the working directory:

    jobs    one line per job: id, internal name, queue, command
    status  one line per job: id, internal name, state, fail count, runtime
    params  the verbatim extra submission parameters, a single line
    count   the total number of jobs, a single integer

All files are tab-separated and LF-terminated. Every save is an atomic
write-to-temp-then-rename, so a crash mid-write cannot corrupt the ledger;
readers only ever observe a before or after image. When backups are enabled,
every rewrite first copies the old file aside with a monotonically increasing
.backup<n> suffix.
*/
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/VertebrateResequencing/bherd/scheduler"
	"github.com/gofrs/uuid"
	"github.com/inconshreveable/log15"
)

const (
	jobsBasename   = "jobs"
	statusBasename = "status"
	paramsBasename = "params"
	countBasename  = "count"

	// UnknownRuntime is the recorded runtime of a job that hasn't finished.
	UnknownRuntime = -1
)

// Err* constants are found in the returned Errors under err.Err, so you can
// cast and check if it's a certain type of error.
var (
	ErrCorrupt  = "the ledger files disagree with each other; refusing to touch them"
	ErrExists   = "a ledger for this job list already exists"
	ErrNotFound = "no ledger found for this job list"
)

// Error records an error and the job list and operation that caused it.
type Error struct {
	List string // the job list's name
	Op   string // name of the method
	Err  string // one of our Err* vars
}

func (e Error) Error() string {
	return "ledger(" + e.List + ") " + e.Op + "(): " + e.Err
}

// Job is a catalog entry: one submitted command. Only ID and Queue change
// after initial submission (on resubmission of a crashed job).
type Job struct {
	ID           string // the most recent scheduler-assigned id
	InternalName string // our name for the job, also its output file path
	Queue        string // the queue the job is currently assigned to
	Command      string // the user's command, opaque to us
}

// Status is the mutable per-job record paired with a Job.
type Status struct {
	ID           string
	InternalName string
	State        scheduler.JobState
	FailCount    int
	Runtime      int // seconds; UnknownRuntime until the job has finished
}

// Store provides access to the ledger of one job list.
type Store struct {
	name        string
	dir         string
	perDir      int
	keepBackups bool
	log15.Logger
}

// New creates a Store for the job list with the given name, in the current
// working directory. perDir is the maximum number of job output files to
// allow per output directory. If keepBackups is true, every rewrite of a
// ledger file keeps the old version aside as a numbered backup.
func New(name string, perDir int, keepBackups bool, logger log15.Logger) *Store {
	return &Store{
		name:        name,
		dir:         "." + name,
		perDir:      perDir,
		keepBackups: keepBackups,
		Logger:      logger.New("ledger", name),
	}
}

// Name returns the job list name this Store was made with.
func (s *Store) Name() string {
	return s.name
}

// Dir returns the directory the ledger files live in.
func (s *Store) Dir() string {
	return s.dir
}

// InternalName returns the supervisor-chosen name for the index-th job of
// this list, which doubles as the scheduler output file path for that job.
// Jobs are spread over numbered subdirectories so no directory holds more
// than perDir output files.
func (s *Store) InternalName(index int) string {
	bucket := index/s.perDir + 1
	return fmt.Sprintf("%s/%d/o.%d", s.name, bucket, index)
}

// Exists tells you if any ledger file for this job list already exists.
func (s *Store) Exists() bool {
	for _, base := range []string{jobsBasename, statusBasename, paramsBasename, countBasename} {
		if _, err := os.Stat(filepath.Join(s.dir, base)); err == nil {
			return true
		}
	}
	return false
}

// Create makes the ledger directory.
func (s *Store) Create() error {
	return os.MkdirAll(s.dir, 0750)
}

// SaveCatalog atomically rewrites the jobs file.
func (s *Store) SaveCatalog(jobs []*Job) error {
	var sb strings.Builder
	for _, job := range jobs {
		sb.WriteString(job.ID)
		sb.WriteByte('\t')
		sb.WriteString(job.InternalName)
		sb.WriteByte('\t')
		sb.WriteString(job.Queue)
		sb.WriteByte('\t')
		sb.WriteString(job.Command)
		sb.WriteByte('\n')
	}
	return s.save(jobsBasename, sb.String())
}

// LoadCatalog reads the jobs file.
func (s *Store) LoadCatalog() ([]*Job, error) {
	lines, err := s.load(jobsBasename)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(lines))
	for _, line := range lines {
		cols := strings.SplitN(line, "\t", 4)
		if len(cols) != 4 {
			return nil, Error{s.name, "LoadCatalog", ErrCorrupt}
		}
		jobs = append(jobs, &Job{ID: cols[0], InternalName: cols[1], Queue: cols[2], Command: cols[3]})
	}
	return jobs, nil
}

// SaveStatus atomically rewrites the status file.
func (s *Store) SaveStatus(statuses []*Status) error {
	var sb strings.Builder
	for _, st := range statuses {
		sb.WriteString(st.ID)
		sb.WriteByte('\t')
		sb.WriteString(st.InternalName)
		sb.WriteByte('\t')
		sb.WriteString(string(st.State))
		sb.WriteByte('\t')
		sb.WriteString(strconv.Itoa(st.FailCount))
		sb.WriteByte('\t')
		sb.WriteString(strconv.Itoa(st.Runtime))
		sb.WriteByte('\n')
	}
	return s.save(statusBasename, sb.String())
}

// LoadStatus reads the status file.
func (s *Store) LoadStatus() ([]*Status, error) {
	lines, err := s.load(statusBasename)
	if err != nil {
		return nil, err
	}

	statuses := make([]*Status, 0, len(lines))
	for _, line := range lines {
		cols := strings.Split(line, "\t")
		if len(cols) != 5 {
			return nil, Error{s.name, "LoadStatus", ErrCorrupt}
		}
		failCount, errf := strconv.Atoi(cols[3])
		runtime, errr := strconv.Atoi(cols[4])
		if errf != nil || errr != nil {
			return nil, Error{s.name, "LoadStatus", ErrCorrupt}
		}
		statuses = append(statuses, &Status{
			ID:           cols[0],
			InternalName: cols[1],
			State:        scheduler.JobState(cols[2]),
			FailCount:    failCount,
			Runtime:      runtime,
		})
	}
	return statuses, nil
}

// SaveParams atomically rewrites the params file with the verbatim extra
// submission parameters.
func (s *Store) SaveParams(params string) error {
	return s.save(paramsBasename, params+"\n")
}

// LoadParams reads the params file.
func (s *Store) LoadParams() (string, error) {
	lines, err := s.load(paramsBasename)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], nil
}

// SaveCount atomically rewrites the count file.
func (s *Store) SaveCount(count int) error {
	return s.save(countBasename, strconv.Itoa(count)+"\n")
}

// LoadCount reads the count file.
func (s *Store) LoadCount() (int, error) {
	lines, err := s.load(countBasename)
	if err != nil {
		return 0, err
	}
	if len(lines) != 1 {
		return 0, Error{s.name, "LoadCount", ErrCorrupt}
	}
	count, err := strconv.Atoi(lines[0])
	if err != nil {
		return 0, Error{s.name, "LoadCount", ErrCorrupt}
	}
	return count, nil
}

// Load reads the whole ledger, checking that the catalog, status file and
// count agree with each other: same number of entries, and per-line agreement
// on id and internal name. Any mismatch returns an ErrCorrupt Error, since it
// means a previous supervisor died mid-mutation or a human edited the files.
func (s *Store) Load() ([]*Job, []*Status, error) {
	catalog, err := s.LoadCatalog()
	if err != nil {
		return nil, nil, err
	}
	statuses, err := s.LoadStatus()
	if err != nil {
		return nil, nil, err
	}
	count, err := s.LoadCount()
	if err != nil {
		return nil, nil, err
	}

	if len(catalog) != len(statuses) || len(catalog) != count {
		return nil, nil, Error{s.name, "Load", ErrCorrupt}
	}
	for i, job := range catalog {
		if statuses[i].ID != job.ID || statuses[i].InternalName != job.InternalName {
			return nil, nil, Error{s.name, "Load", ErrCorrupt}
		}
	}

	return catalog, statuses, nil
}

// BackupAll copies every existing ledger file to its next backup version.
// Called at initial submission to create the version-0 backups.
func (s *Store) BackupAll() error {
	for _, base := range []string{jobsBasename, statusBasename, paramsBasename, countBasename} {
		if err := s.backup(base); err != nil {
			return err
		}
	}
	return nil
}

// Files returns the paths of every ledger file and backup that currently
// exists for this job list.
func (s *Store) Files() []string {
	var paths []string
	for _, base := range []string{jobsBasename, statusBasename, paramsBasename, countBasename} {
		path := filepath.Join(s.dir, base)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
		backups, err := filepath.Glob(path + ".backup*")
		if err == nil {
			paths = append(paths, backups...)
		}
	}
	return paths
}

// save writes content to the named ledger file via a sibling temp file and a
// rename, taking a backup of any previous version first when enabled.
func (s *Store) save(base, content string) error {
	if s.keepBackups {
		if err := s.backup(base); err != nil {
			return err
		}
	}

	path := filepath.Join(s.dir, base)
	u, err := uuid.NewV4()
	if err != nil {
		return err
	}
	tmp := path + ".tmp." + u.String()

	if err := os.WriteFile(tmp, []byte(content), 0640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// backup copies the named ledger file, if it exists, to its next unused
// .backup<n> name.
func (s *Store) backup(base string) error {
	path := filepath.Join(s.dir, base)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	next := 0
	backups, err := filepath.Glob(path + ".backup*")
	if err != nil {
		return err
	}
	for _, b := range backups {
		if n, errc := strconv.Atoi(strings.TrimPrefix(b, path+".backup")); errc == nil && n >= next {
			next = n + 1
		}
	}

	return os.WriteFile(fmt.Sprintf("%s.backup%d", path, next), content, 0640)
}

// load reads the named ledger file and returns its lines, without their
// trailing newlines.
func (s *Store) load(base string) ([]string, error) {
	content, err := os.ReadFile(filepath.Join(s.dir, base))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Error{s.name, "load", ErrNotFound}
		}
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// RemoveLedger deletes every ledger file and backup, then the ledger
// directory itself; if anything else is left in that directory, the error
// from removing it is returned.
func (s *Store) RemoveLedger() error {
	for _, path := range s.Files() {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) {
		// leftover temp files would make the dir non-empty; report them
		return err
	}
	return nil
}
