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

import (
	"github.com/VertebrateResequencing/bherd/supervise"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait <jobListName>",
	Short: "Supervise a job list until it finishes",
	Long: `Supervise a previously pushed job list until every job has reached a
final state.

This polls the scheduler in a loop, printing a one line tally each cycle.
Crashed jobs get resubmitted automatically (up to the resubmission cap), with
jobs that exceeded their queue's run time limit promoted to the next longer
queue.

Exits 0 with a success banner once every job has completed, or non-zero with
a crash banner if any job exhausted its resubmissions.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		waitForCompletion(sup)
	},
}

func init() {
	RootCmd.AddCommand(waitCmd)
}

// waitForCompletion runs the supervision loop and deals with its final
// banner and exit status; shared with the make command.
func waitForCompletion(sup *supervise.Supervisor) {
	completion, err := sup.Wait(waitOpts())
	switch completion {
	case supervise.AllDone:
		color.New(color.FgGreen, color.Bold).Println("ALL JOBS SUCCEEDED")
	case supervise.AllCrashed:
		color.New(color.FgRed, color.Bold).Println("CRASHED")
		die("%s", err)
	default:
		die("waiting failed: %s", err)
	}
}
