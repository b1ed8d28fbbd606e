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

package ledger

// this file implements the per-job-list mutex that serialises ledger
// mutations across supervisor processes

import (
	"time"

	"github.com/gofrs/flock"
	"github.com/inconshreveable/log15"
)

const (
	lockPollInterval = 500 * time.Millisecond
	lockWarnAfter    = 10 * time.Second
)

// Lock is a file-based mutex scoped to a job list name. It must be held
// around every read-modify-write of that job list's ledger. It uses an OS
// advisory lock on the file, so a supervisor that dies without releasing it
// does not leave the list permanently locked; the lock file itself is
// harmless to leave behind.
type Lock struct {
	path string
	fl   *flock.Flock
	log15.Logger
}

// NewLock creates a Lock for the job list with the given name, in the
// current working directory.
func NewLock(name string, logger log15.Logger) *Lock {
	path := "lockFile." + name
	return &Lock{
		path:   path,
		fl:     flock.New(path),
		Logger: logger.New("lock", path),
	}
}

// Path returns the lock file's path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held. If another process holds it for
// more than a few seconds we tell the user, since the most likely cause of a
// long wait on a supervisor lock is a dead supervisor on another host (where
// the OS can't revoke the advisory lock for us).
func (l *Lock) Acquire() error {
	warned := false
	start := time.Now()
	for {
		locked, err := l.fl.TryLock()
		if err != nil {
			return err
		}
		if locked {
			return nil
		}
		if !warned && time.Since(start) > lockWarnAfter {
			l.Warn("still waiting for the job list lock; if a previous supervisor died you may need to remove the lock file manually", "path", l.path)
			warned = true
		}
		time.Sleep(lockPollInterval)
	}
}

// Release lets go of the lock. Safe to call when not held.
func (l *Lock) Release() {
	if err := l.fl.Unlock(); err != nil {
		l.Warn("failed to release the job list lock", "err", err)
	}
}
