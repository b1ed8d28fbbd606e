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

import (
	"os"
	"testing"
	"time"

	"github.com/gofrs/flock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLock(t *testing.T) {
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	logger := testLogger()

	Convey("Given a lock for a job list", t, func() {
		lock := NewLock("locktest", logger)
		So(lock.Path(), ShouldEqual, "lockFile.locktest")

		Convey("It can be acquired and released", func() {
			So(lock.Acquire(), ShouldBeNil)

			Convey("While held, nobody else can take it", func() {
				other := flock.New(lock.Path())
				locked, err := other.TryLock()
				So(err, ShouldBeNil)
				So(locked, ShouldBeFalse)

				lock.Release()

				locked, err = other.TryLock()
				So(err, ShouldBeNil)
				So(locked, ShouldBeTrue)
				So(other.Unlock(), ShouldBeNil)
			})
		})

		Convey("Acquire waits for a holder to let go", func() {
			other := flock.New(lock.Path())
			locked, err := other.TryLock()
			So(err, ShouldBeNil)
			So(locked, ShouldBeTrue)

			acquired := make(chan error, 1)
			go func() {
				acquired <- lock.Acquire()
			}()

			select {
			case <-acquired:
				So("acquired while someone else held the lock", ShouldBeEmpty)
			case <-time.After(100 * time.Millisecond):
			}

			So(other.Unlock(), ShouldBeNil)
			So(<-acquired, ShouldBeNil)
			lock.Release()
		})

		Convey("Releasing an unheld lock is harmless", func() {
			lock.Release()
		})
	})
}
