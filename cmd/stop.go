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
	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop <jobListName>",
	Short: "Cancel every pending and running job of a job list",
	Long: `Cancel every job of the given job list that is still pending or
running.

Cancellation is best effort: a job that finished between our status query and
the cancellation just stays finished. The ledger keeps the list's history, so
you can still run "bherd crashed" afterwards, and "bherd clean" once nothing
is left active.

To only stop jobs that haven't started running yet, use "bherd chill"
instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		if err := sup.Stop(); err != nil {
			die("stop failed: %s", err)
		}
	},
}

// chillCmd represents the chill command
var chillCmd = &cobra.Command{
	Use:   "chill <jobListName>",
	Short: "Cancel the pending jobs of a job list, letting running ones finish",
	Long: `Cancel every job of the given job list that is still pending, while
leaving the ones already running to finish in their own time.

Useful when a cluster needs draining without throwing away work in
progress.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		if err := sup.Chill(); err != nil {
			die("chill failed: %s", err)
		}
	},
}

func init() {
	RootCmd.AddCommand(stopCmd)
	RootCmd.AddCommand(chillCmd)
}
