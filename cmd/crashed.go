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

// crashedCmd represents the crashed command
var crashedCmd = &cobra.Command{
	Use:   "crashed <jobListName> <outputFile>",
	Short: "Save the commands of crashed jobs to a file",
	Long: `Write the command of every job of the given job list that is
currently crashed to the given file, one per line.

The file is in the same format "bherd push" takes, so after fixing whatever
made them crash you can submit just the failures as a fresh job list.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		n, err := sup.Crashed(args[1])
		if err != nil {
			die("crashed failed: %s", err)
		}
		info("wrote %d crashed commands to %s", n, args[1])
	},
}

func init() {
	RootCmd.AddCommand(crashedCmd)
}
