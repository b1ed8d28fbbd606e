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

package cmd

// this is the cobra file that enables subcommands and handles command-line
// args

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VertebrateResequencing/bherd/internal"
	"github.com/VertebrateResequencing/bherd/ledger"
	"github.com/VertebrateResequencing/bherd/scheduler"
	"github.com/VertebrateResequencing/bherd/supervise"
	"github.com/inconshreveable/log15"
	"github.com/sb10/l15h"
	"github.com/spf13/cobra"
)

// appLogger is used for logging events in our commands
var appLogger = log15.New()

// these variables are accessible by all subcommands.
var config internal.Config
var verbose bool

// these are shared by some of the subcommands.
var queueName string
var extraParams string
var maxResubmissions int
var noResubmitOnLimit bool
var sameQueueOnLimit bool
var keepBackups bool

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "bherd",
	Short: "bherd is a batch job supervisor for LSF clusters.",
	Long: `bherd is a batch job supervisor for LSF clusters.

You give it a file of shell commands and a name for the batch (a "job list"),
and it submits each command as an independent cluster job, then babysits them:
crashed jobs get resubmitted up to a cap, and jobs killed for exceeding a
queue's run time limit get promoted to the next longer queue.

Submit a job list and wait for it to finish:
$ bherd make mylist commands.txt -q short

Or submit now and supervise later:
$ bherd push mylist commands.txt -q short
$ bherd wait mylist

Then, whenever you like:
$ bherd check mylist
$ bherd time mylist
$ bherd crashed mylist failed.txt
$ bherd clean mylist`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		die(err.Error())
	}
}

func init() {
	// set up logging to stderr
	appLogger.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StderrHandler))

	// global flags
	RootCmd.PersistentFlags().StringVarP(&queueName, "queue", "q", "", "scheduler queue to submit to (defaults to the first configured queue)")
	RootCmd.PersistentFlags().StringVarP(&extraParams, "parameters", "p", "", "extra submission parameters, passed to the scheduler verbatim")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also log each job state transition")
	RootCmd.PersistentFlags().IntVar(&maxResubmissions, "maxNumResubmission", -1, "how many times a job may crash before giving up on it")
	RootCmd.PersistentFlags().BoolVar(&noResubmitOnLimit, "noResubmitIfQueueMaxTimeExceeded", false, "never resubmit jobs killed for exceeding a queue's run time limit")
	RootCmd.PersistentFlags().BoolVar(&sameQueueOnLimit, "resubmitToSameQueueIfQueueMaxTimeExceeded", false, "resubmit runtime-limited jobs to their current queue instead of promoting them")
	RootCmd.PersistentFlags().BoolVar(&keepBackups, "keepBackupFiles", false, "keep a numbered backup of every ledger file version")

	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set, and finishes
// setting up logging now that we know if we're verbose.
func initConfig() {
	config = internal.ConfigLoad(appLogger)

	logLevel := log15.LvlInfo
	handler := log15.Handler(log15.StderrHandler)
	if verbose {
		logLevel = log15.LvlDebug
		handler = l15h.CallerInfoHandler(handler)
	}
	appLogger.SetHandler(log15.LvlFilterHandler(logLevel, handler))
}

// info is a convenience to log a message at the Info level.
func info(msg string, a ...interface{}) {
	appLogger.Info(fmt.Sprintf(msg, a...))
}

// warn is a convenience to log a message at the Warn level.
func warn(msg string, a ...interface{}) {
	appLogger.Warn(fmt.Sprintf(msg, a...))
}

// die is a convenience to log a message at the Error level and exit non
// zero.
func die(msg string, a ...interface{}) {
	appLogger.Error(fmt.Sprintf(msg, a...))
	os.Exit(1)
}

// checkHeadHost dies unless we're on the designated head node, since compute
// nodes typically don't have the scheduler client tools and shouldn't be
// running supervisors anyway.
func checkHeadHost() {
	if host := internal.CurrentHost(); host != config.HeadHost {
		die("bherd may only run on %s, not %s", config.HeadHost, host)
	}
}

// chosenQueue returns the queue to submit to, defaulting to the first (ie.
// shortest) configured queue, and dies if it isn't a configured queue at
// all.
func chosenQueue() string {
	queues := config.QueueList()
	if len(queues) == 0 {
		die("no queues are configured")
	}
	if queueName == "" {
		return queues[0]
	}
	for _, q := range queues {
		if q == queueName {
			return queueName
		}
	}
	die("queue '%s' is not one of the configured queues %v", queueName, queues)
	return ""
}

// supervisorOpts turns config and flags in to supervise.Options, enforcing
// flag compatibility.
func supervisorOpts() supervise.Options {
	if noResubmitOnLimit && sameQueueOnLimit {
		die("--noResubmitIfQueueMaxTimeExceeded and --resubmitToSameQueueIfQueueMaxTimeExceeded are mutually exclusive")
	}

	max := maxResubmissions
	if max < 0 {
		max = config.MaxResubmissions
	}

	return supervise.Options{
		Queues:              config.QueueList(),
		MaxResubmissions:    max,
		NoResubmitOnLimit:   noResubmitOnLimit,
		ResubmitToSameQueue: sameQueueOnLimit,
	}
}

// waitOpts turns config in to the wait action's polling options.
func waitOpts() supervise.WaitOptions {
	return supervise.WaitOptions{
		SleepShort: time.Duration(config.SleepShortSecs) * time.Second,
		SleepLong:  time.Duration(config.SleepLongSecs) * time.Second,
		FastCycles: config.FastCycles,
	}
}

// newSupervisor builds the Supervisor for the named job list, wiring the
// scheduler adapter, ledger store and lock together, and arranges for the
// lock to be released if we get signalled.
func newSupervisor(name string) *supervise.Supervisor {
	checkHeadHost()

	sched, err := scheduler.New("lsf", &scheduler.ConfigLSF{
		BatchQuerySize: config.BatchQuerySize,
		BusyBackoff:    time.Duration(config.BusyBackoffSecs) * time.Second,
	}, appLogger)
	if err != nil {
		die("could not set up the scheduler: %s", err)
	}

	store := ledger.New(name, config.MaxOutFilesPerDir, keepBackups, appLogger)
	lock := ledger.NewLock(name, appLogger)
	sup := supervise.New(sched, store, lock, supervisorOpts(), appLogger)

	trapSignals(sup.ReleaseLock)

	return sup
}

// trapSignals makes sure cleanup runs before we die from a signal, so the
// job list lock never outlives us.
func trapSignals(cleanup func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cleanup()
		os.Exit(1)
	}()
}
