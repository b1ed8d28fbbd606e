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

	"github.com/VertebrateResequencing/bherd/internal"
	"github.com/spf13/cobra"
)

// timeCmd represents the time command
var timeCmd = &cobra.Command{
	Use:   "time <jobListName>",
	Short: "Report runtime statistics for a job list",
	Long: `Report how long the jobs of the given job list have been taking.

Finished jobs contribute their recorded runtimes; for each currently-running
job the scheduler is asked how long it has been going. The estimated time to
completion assumes the remaining jobs will take the mean runtime seen so far
and that the current level of parallelism holds, so treat it accordingly.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		stats, err := sup.Time()
		if err != nil {
			die("time failed: %s", err)
		}

		fmt.Printf("finished jobs:  %d (total %s, mean %s, stddev %s, max %s)\n",
			stats.NumFinished,
			internal.FormatSeconds(stats.Sum),
			internal.FormatSeconds(stats.Mean),
			internal.FormatSeconds(stats.StdDev),
			internal.FormatSeconds(stats.MaxFinished))
		fmt.Printf("running jobs:   %d (longest so far %s)\n",
			stats.NumRunning, internal.FormatSeconds(stats.MaxRunning))
		if stats.NumRunning > 0 {
			fmt.Printf("estimated time until finished: %s\n", internal.FormatSeconds(stats.ETA))
		}
	},
}

func init() {
	RootCmd.AddCommand(timeCmd)
}
