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

// pushCrashedCmd represents the pushCrashed command
var pushCrashedCmd = &cobra.Command{
	Use:   "pushCrashed <jobListName>",
	Short: "Resubmit the crashed jobs of a job list",
	Long: `Resubmit every crashed job of the given job list that hasn't yet
exhausted its resubmission cap.

"bherd wait" does this automatically each cycle; you only need this if you're
supervising by hand with "bherd check".

Each resubmitted job keeps its failure count and goes back to its current
queue, except jobs that were killed for exceeding their queue's run time
limit, which go to the next longer queue (unless told otherwise with
--resubmitToSameQueueIfQueueMaxTimeExceeded). Resubmission replaces the job's
scheduler id in the ledger and removes its old output file.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		n, err := sup.PushCrashed()
		if err != nil {
			die("pushCrashed failed: %s", err)
		}
		info("resubmitted %d crashed jobs", n)
	},
}

func init() {
	RootCmd.AddCommand(pushCrashedCmd)
}
