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
	"fmt"
	"os"

	"github.com/VertebrateResequencing/bherd/supervise"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <jobListName>",
	Short: "Report the current state of a job list",
	Long: `Run a single reconciliation against the scheduler and report how the
given job list is doing.

Prints a tally of jobs per state. Exits 0 if every job has completed
successfully, non-zero otherwise, so you can use this in scripts.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		res, err := sup.Check()
		if err != nil {
			die("check failed: %s", err)
		}

		t := res.Tallies
		fmt.Printf("pend:%d run:%d done:%d failed:%d retriable:%d\n", t.Pend, t.Run, t.Done, t.Failed, t.Retriable)

		if res.Completion != supervise.AllDone {
			os.Exit(1)
		}
	},
}

func init() {
	RootCmd.AddCommand(checkCmd)
}
