package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCreateCmd(client func() *apiClient) *cobra.Command {
	var adapter string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().createSession(adapter)
			if err != nil {
				return err
			}
			fmt.Println(s.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&adapter, "adapter", "", "backend adapter name (default: the broker's default_adapter)")
	return cmd
}
