package main

import (
	"github.com/spf13/cobra"
)

func init() {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().R().Get("/api/stats")
			if err != nil {
				return err
			}
			if err := checkStatus(resp); err != nil {
				return err
			}
			printJSON(resp.Body())
			return nil
		},
	}
	rootCmd.AddCommand(statsCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Runtime configuration"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the runtime-tunable settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().R().Get("/api/config")
			if err != nil {
				return err
			}
			if err := checkStatus(resp); err != nil {
				return err
			}
			printJSON(resp.Body())
			return nil
		},
	}
	configCmd.AddCommand(getCmd)

	var autosave bool
	var minScore float64
	var topK int
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the runtime-tunable settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().R().
				SetBody(map[string]interface{}{
					"autosave":  autosave,
					"min_score": minScore,
					"top_k":     topK,
				}).
				Put("/api/config")
			if err != nil {
				return err
			}
			if err := checkStatus(resp); err != nil {
				return err
			}
			printJSON(resp.Body())
			return nil
		},
	}
	setCmd.Flags().BoolVar(&autosave, "autosave", true, "save conversation turns automatically")
	setCmd.Flags().Float64Var(&minScore, "min-score", 0.35, "relevance floor for retrieval")
	setCmd.Flags().IntVar(&topK, "top-k", 5, "results per retrieval query")
	configCmd.AddCommand(setCmd)

	rootCmd.AddCommand(configCmd)
}
