package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/filing-analyzer/internal/extract"
)

var extractSection string

// One-shot extraction for poking at a PDF without going through the API.
var extractCmd = &cobra.Command{
	Use:   "extract <pdf-path>",
	Short: "Extract text from a PDF and print it with metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := extract.PDF(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("pages: %d\nwords: %d\n\n", res.PageCount, res.WordCount)

		if extractSection != "" {
			fmt.Println(extract.Section(res.Text, extractSection))
			return nil
		}
		fmt.Println(res.Text)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractSection, "section", "", "print only the named section (e.g. risk_factors)")
	rootCmd.AddCommand(extractCmd)
}
