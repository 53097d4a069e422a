package main

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

type sessionInfo struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	PID     int       `json:"pid,omitempty"`
	Since   time.Time `json:"since,omitzero"`
	Default bool      `json:"default"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List local sessions and whether a daemon serves them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		current := session.Resolve(sessionFlag)
		infos := make([]sessionInfo, 0, len(names))
		for _, name := range names {
			info := sessionInfo{Name: name, Default: name == current}
			dir := session.Dir(name)
			if lock.Running(dir) {
				info.Running = true
				if h, err := lock.ReadHolder(dir); err == nil {
					info.PID, info.Since = h.PID, h.Since
				}
			}
			infos = append(infos, info)
		}

		if jsonOutput {
			outputJSON(infos)
			return nil
		}
		if len(infos) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}
		for _, info := range infos {
			mark := " "
			if info.Default {
				mark = "*"
			}
			state := "stopped"
			if info.Running {
				state = fmt.Sprintf("running (PID %d)", info.PID)
			}
			fmt.Printf("%s %-20s %s\n", mark, info.Name, state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
