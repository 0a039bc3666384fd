package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	var conversation string
	turnCmd := &cobra.Command{
		Use:   "turn [input]",
		Short: "Run one conversational turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversation == "" {
				return fmt.Errorf("--conversation required")
			}
			resp, err := newClient().R().
				SetBody(map[string]interface{}{
					"conversationId": conversation,
					"input":          args[0],
				}).
				Post("/api/turns")
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
	turnCmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (required)")
	rootCmd.AddCommand(turnCmd)
}
