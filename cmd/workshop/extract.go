package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"santa-workshop/internal/extract"
	"santa-workshop/internal/persona"
)

type extractOutput struct {
	DisplayText string          `json:"displayText"`
	Action      *extractedAction `json:"action"`
}

type extractedAction struct {
	Kind        string `json:"kind"`
	ProductName string `json:"productName"`
	Price       string `json:"price"`
}

// NewExtractCmd runs the action extractor over a reply read from stdin or
// --reply and prints the result as JSON.
func NewExtractCmd() *cobra.Command {
	var (
		reply       string
		personaFile string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Parse an add-to-cart directive out of a model reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := persona.Load(cmd.Context(), nil, personaFile, "")
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("reply") {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read reply: %w", err)
				}
				reply = strings.TrimRight(string(b), "\r\n")
			}

			res := extract.New(p.Confirmation).Extract(reply)
			out := extractOutput{DisplayText: res.DisplayText}
			if res.Action != nil {
				out.Action = &extractedAction{
					Kind:        string(res.Action.Kind),
					ProductName: res.Action.ProductName,
					Price:       res.Action.Price,
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&reply, "reply", "r", "", "Reply text (read from stdin when omitted)")
	cmd.Flags().StringVar(&personaFile, "persona", "", "Persona YAML supplying the confirmation template")
	return cmd
}
