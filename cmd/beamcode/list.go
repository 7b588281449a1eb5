package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions running on the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := client().listSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			fmt.Println(bold("Sessions:"))
			for _, s := range sessions {
				model := s.Model
				if model == "" {
					model = "-"
				}
				fmt.Printf("  %s %s %s — %s, model %s\n",
					statusGlyph(s.Status), s.SessionID, dim(s.Adapter), s.Status, model)
			}
			return nil
		},
	}
}
