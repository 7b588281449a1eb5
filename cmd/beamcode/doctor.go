package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type metricsReport struct {
	Sessions          int            `json:"sessions"`
	SessionsByStatus  map[string]int `json:"sessions_by_status"`
	AttachedConsumers int            `json:"attached_consumers"`
}

func newDoctorCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report the broker's health and session counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			var report metricsReport
			if err := c.do("GET", "/metrics", nil, &report); err != nil {
				return fmt.Errorf("broker unreachable at %s: %w", c.baseURL, err)
			}

			width := 72
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
				width = w
			}
			printRule(width)
			fmt.Printf("%s  %s\n", bold("broker"), c.baseURL)
			fmt.Printf("%s  %d (%d consumers attached)\n", bold("sessions"), report.Sessions, report.AttachedConsumers)

			statuses := make([]string, 0, len(report.SessionsByStatus))
			for s := range report.SessionsByStatus {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Printf("  %s %-12s %d\n", statusGlyph(s), s, report.SessionsByStatus[s])
			}
			printRule(width)
			return nil
		},
	}
}

func printRule(width int) {
	if width > 120 {
		width = 120
	}
	rule := make([]byte, width)
	for i := range rule {
		rule[i] = '-'
	}
	fmt.Println(dim(string(rule)))
}
