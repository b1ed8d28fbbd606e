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

package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	origHome := os.Getenv("HOME")
	defer os.Setenv("HOME", origHome)
	if err := os.Setenv("HOME", t.TempDir()); err != nil {
		t.Fatal(err)
	}

	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())

	Convey("With no config files, everything takes its default", t, func() {
		config := ConfigLoad(logger)
		So(config.Queues, ShouldEqual, "short,medium,long")
		So(config.MaxResubmissions, ShouldEqual, 3)
		So(config.MaxOutFilesPerDir, ShouldEqual, 1000)
		So(config.BatchQuerySize, ShouldEqual, 1000)
		So(config.BusyBackoffSecs, ShouldEqual, 180)
		So(config.SleepShortSecs, ShouldEqual, 45)
		So(config.SleepLongSecs, ShouldEqual, 90)
		So(config.FastCycles, ShouldEqual, 10)
		So(config.HeadHost, ShouldNotBeBlank)

		So(config.QueueList(), ShouldResemble, []string{"short", "medium", "long"})
	})

	Convey("A config file in the current dir takes precedence", t, func() {
		pwd, err := os.Getwd()
		So(err, ShouldBeNil)
		yml := []byte("headhost: other-head\nqueues: normal, basement ,\nmaxresubmissions: 5\n")
		So(os.WriteFile(filepath.Join(pwd, ".bherd_config.yml"), yml, 0640), ShouldBeNil)
		defer os.Remove(filepath.Join(pwd, ".bherd_config.yml"))

		config := ConfigLoad(logger)
		So(config.HeadHost, ShouldEqual, "other-head")
		So(config.MaxResubmissions, ShouldEqual, 5)
		So(config.SleepShortSecs, ShouldEqual, 45)

		Convey("And QueueList trims the mess out of the queue setting", func() {
			So(config.QueueList(), ShouldResemble, []string{"normal", "basement"})
		})
	})

	Convey("Environment variables override the defaults", t, func() {
		So(os.Setenv("BHERD_HEADHOST", "env-head"), ShouldBeNil)
		defer os.Unsetenv("BHERD_HEADHOST")

		config := ConfigLoad(logger)
		So(config.HeadHost, ShouldEqual, "env-head")
	})
}
