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
	"path/filepath"
	"testing"

	"github.com/VertebrateResequencing/bherd/scheduler"
	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"
)

func testLogger() log15.Logger {
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	return logger
}

func TestStore(t *testing.T) {
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	logger := testLogger()

	catalog := []*Job{
		{ID: "101", InternalName: "mylist/1/o.0", Queue: "short", Command: "echo a"},
		{ID: "102", InternalName: "mylist/1/o.1", Queue: "short", Command: "echo b && echo c"},
	}
	statuses := []*Status{
		{ID: "101", InternalName: "mylist/1/o.0", State: scheduler.JobStatePend, FailCount: 0, Runtime: UnknownRuntime},
		{ID: "102", InternalName: "mylist/1/o.1", State: scheduler.JobStateDone, FailCount: 1, Runtime: 42},
	}

	Convey("Given a fresh Store", t, func() {
		// goconvey reruns this scope once per leaf, so each run gets its own
		// working directory to keep the store genuinely fresh
		So(os.Chdir(t.TempDir()), ShouldBeNil)
		store := New("mylist", 1000, false, logger)
		So(store.Exists(), ShouldBeFalse)
		So(store.Create(), ShouldBeNil)

		Convey("InternalName spreads jobs over bucket directories", func() {
			small := New("mylist", 2, false, logger)
			So(small.InternalName(0), ShouldEqual, "mylist/1/o.0")
			So(small.InternalName(1), ShouldEqual, "mylist/1/o.1")
			So(small.InternalName(2), ShouldEqual, "mylist/2/o.2")
			So(small.InternalName(1999), ShouldEqual, "mylist/1000/o.1999")
		})

		Convey("The whole ledger round-trips byte-identically", func() {
			So(store.SaveCatalog(catalog), ShouldBeNil)
			So(store.SaveStatus(statuses), ShouldBeNil)
			So(store.SaveParams("-M 1000"), ShouldBeNil)
			So(store.SaveCount(2), ShouldBeNil)
			So(store.Exists(), ShouldBeTrue)

			before := map[string][]byte{}
			for _, path := range store.Files() {
				content, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				before[path] = content
			}

			gotCatalog, gotStatuses, err := store.Load()
			So(err, ShouldBeNil)
			So(gotCatalog, ShouldResemble, catalog)
			So(gotStatuses, ShouldResemble, statuses)

			params, err := store.LoadParams()
			So(err, ShouldBeNil)
			So(params, ShouldEqual, "-M 1000")

			So(store.SaveCatalog(gotCatalog), ShouldBeNil)
			So(store.SaveStatus(gotStatuses), ShouldBeNil)
			So(store.SaveParams(params), ShouldBeNil)
			So(store.SaveCount(2), ShouldBeNil)

			for path, content := range before {
				got, errr := os.ReadFile(path)
				So(errr, ShouldBeNil)
				So(string(got), ShouldEqual, string(content))
			}

			Convey("The files use the documented format", func() {
				content, errr := os.ReadFile(filepath.Join(store.Dir(), "jobs"))
				So(errr, ShouldBeNil)
				So(string(content), ShouldEqual, "101\tmylist/1/o.0\tshort\techo a\n102\tmylist/1/o.1\tshort\techo b && echo c\n")

				content, errr = os.ReadFile(filepath.Join(store.Dir(), "status"))
				So(errr, ShouldBeNil)
				So(string(content), ShouldEqual, "101\tmylist/1/o.0\tPEND\t0\t-1\n102\tmylist/1/o.1\tDONE\t1\t42\n")
			})

			Convey("A count that disagrees with the files is corruption", func() {
				So(store.SaveCount(3), ShouldBeNil)
				_, _, errl := store.Load()
				So(errl, ShouldNotBeNil)
				serr, ok := errl.(Error)
				So(ok, ShouldBeTrue)
				So(serr.Err, ShouldEqual, ErrCorrupt)
			})

			Convey("A status file shorter than the catalog is corruption", func() {
				So(store.SaveStatus(statuses[:1]), ShouldBeNil)
				_, _, errl := store.Load()
				So(errl, ShouldNotBeNil)
				serr, ok := errl.(Error)
				So(ok, ShouldBeTrue)
				So(serr.Err, ShouldEqual, ErrCorrupt)
			})

			Convey("Catalog and status disagreeing on an id is corruption", func() {
				mangled := []*Status{statuses[0], {ID: "999", InternalName: "mylist/1/o.1", State: scheduler.JobStateDone, FailCount: 1, Runtime: 42}}
				So(store.SaveStatus(mangled), ShouldBeNil)
				_, _, errl := store.Load()
				So(errl, ShouldNotBeNil)
			})

			Convey("RemoveLedger leaves nothing behind", func() {
				So(store.RemoveLedger(), ShouldBeNil)
				So(store.Exists(), ShouldBeFalse)
				_, errs := os.Stat(store.Dir())
				So(os.IsNotExist(errs), ShouldBeTrue)
			})
		})

		Convey("Loading a never-pushed list reports it missing", func() {
			missing := New("neverpushed", 1000, false, logger)
			_, err := missing.LoadCatalog()
			So(err, ShouldNotBeNil)
			serr, ok := err.(Error)
			So(ok, ShouldBeTrue)
			So(serr.Err, ShouldEqual, ErrNotFound)
		})
	})

	Convey("A Store with backups enabled keeps numbered old versions", t, func() {
		store := New("backedup", 1000, true, logger)
		So(store.Create(), ShouldBeNil)

		So(store.SaveCount(2), ShouldBeNil)
		So(store.BackupAll(), ShouldBeNil)

		content, err := os.ReadFile(filepath.Join(store.Dir(), "count.backup0"))
		So(err, ShouldBeNil)
		So(string(content), ShouldEqual, "2\n")

		So(store.SaveCount(3), ShouldBeNil)
		So(store.SaveCount(4), ShouldBeNil)

		content, err = os.ReadFile(filepath.Join(store.Dir(), "count.backup1"))
		So(err, ShouldBeNil)
		So(string(content), ShouldEqual, "2\n")

		content, err = os.ReadFile(filepath.Join(store.Dir(), "count.backup2"))
		So(err, ShouldBeNil)
		So(string(content), ShouldEqual, "3\n")

		count, err := store.LoadCount()
		So(err, ShouldBeNil)
		So(count, ShouldEqual, 4)

		// count itself plus its 3 backups, ready for clean to remove
		files := store.Files()
		So(len(files), ShouldEqual, 4)

		So(store.RemoveLedger(), ShouldBeNil)
		So(store.Files(), ShouldBeEmpty)
	})
}
