package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	memoriesCmd := &cobra.Command{Use: "memories", Short: "Memory record operations"}

	var kind, tier, source string
	addCmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Store a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{"text": args[0], "kind": kind}
			if tier != "" {
				payload["tier"] = tier
			}
			if source != "" {
				payload["source"] = source
			}
			resp, err := newClient().R().SetBody(payload).Post("/api/memories")
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
	addCmd.Flags().StringVarP(&kind, "kind", "k", "note", "record kind")
	addCmd.Flags().StringVarP(&tier, "tier", "t", "", "retention tier (short, medium, long)")
	addCmd.Flags().StringVarP(&source, "source", "s", "", "record source")
	memoriesCmd.AddCommand(addCmd)

	var topK int
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memory records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().R().
				SetBody(map[string]interface{}{"query": args[0], "topK": topK}).
				Post("/api/memories/search")
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
	searchCmd.Flags().IntVarP(&topK, "topk", "n", 5, "number of results")
	memoriesCmd.AddCommand(searchCmd)

	var unpin bool
	pinCmd := &cobra.Command{
		Use:   "pin [id]",
		Short: "Pin or unpin a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().R().
				SetBody(map[string]interface{}{"pinned": !unpin}).
				Put(fmt.Sprintf("/api/memories/%s/pin", args[0]))
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
	pinCmd.Flags().BoolVar(&unpin, "unpin", false, "remove the pin instead")
	memoriesCmd.AddCommand(pinCmd)

	tierCmd := &cobra.Command{
		Use:   "tier [id] [tier]",
		Short: "Move a memory record to a retention tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().R().
				SetBody(map[string]interface{}{"tier": args[1]}).
				Put(fmt.Sprintf("/api/memories/%s/tier", args[0]))
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
	memoriesCmd.AddCommand(tierCmd)

	rootCmd.AddCommand(memoriesCmd)
}
