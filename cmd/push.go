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

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push <jobListName> <jobListFile>",
	Short: "Submit the commands in a file as cluster jobs",
	Long: `Submit every line of the given file as an independent cluster job,
under the given job list name.

The job list name identifies this batch for every other bherd action, and
must not already be in use in this directory: if you want to reuse a name,
clean the old list first.

Submission parameters other than the queue can be supplied verbatim with -p,
and are remembered for any later resubmissions of crashed jobs.

This returns as soon as everything has been submitted; use "bherd wait" to
supervise the jobs to completion, or "bherd make" to do both in one go.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		if err := sup.Push(args[1], chosenQueue(), extraParams, keepBackups); err != nil {
			die("push failed: %s", err)
		}
		info("pushed job list %s", args[0])
	},
}

func init() {
	RootCmd.AddCommand(pushCmd)
}
