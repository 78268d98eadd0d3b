package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"draftCollab/backend/internal/llm"
	"draftCollab/backend/internal/suggest"
)

var (
	suggestTitle string
	suggestAfter string

	suggestCmd = &cobra.Command{
		Use:   "suggest [text before cursor]",
		Short: "Request one inline suggestion and stream it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := suggest.NewHTTPFetcher(httpURL, token)
			err := f.Stream(cmd.Context(), llm.Request{
				ContextBefore: args[0],
				ContextAfter:  suggestAfter,
				Title:         suggestTitle,
			}, func(fragment string) error {
				fmt.Print(fragment)
				return nil
			})
			fmt.Println()
			return err
		},
	}
)

func init() {
	suggestCmd.Flags().StringVar(&suggestTitle, "title", "", "document title")
	suggestCmd.Flags().StringVar(&suggestAfter, "after", "", "text after the cursor")
}
