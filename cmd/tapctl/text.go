package main

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ashureev/tapflow/internal/crisis"
	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/textnorm"
)

func newNormalizeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "normalize [text...]",
		Short: "Correct common misspellings in text",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			res := textnorm.Correct(text)
			if asJSON {
				return writeJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, res.Corrected); err != nil {
				return err
			}
			for _, c := range res.Changes {
				if _, err := fmt.Fprintf(out, "  %s -> %s\n", c.Original, c.Replacement); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [text...]",
		Short: "Report whether text contains crisis language",
		Long:  "detect normalizes the text first, as a session does, and exits non-zero when crisis language is found.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			if crisis.Detect(textnorm.Correct(text).Corrected) {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), "crisis"); err != nil {
					return err
				}
				return errCrisisDetected
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "clear")
			return err
		},
	}
}

var errCrisisDetected = errors.New("crisis language detected")

func newDirectiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directive",
		Short: "Decode or strip model directives",
	}

	parse := &cobra.Command{
		Use:   "parse [text...]",
		Short: "Print the directive embedded in a model reply as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			visible, res := directive.Split(text)
			d, ok := res.Directive()
			if !ok {
				return errors.New("no directive found")
			}
			return writeJSON(cmd, struct {
				Variant   string              `json:"variant"`
				Directive directive.Directive `json:"directive"`
				Visible   string              `json:"visible"`
			}{res.Variant().String(), d, visible})
		},
	}

	strip := &cobra.Command{
		Use:   "strip [text...]",
		Short: "Print a model reply with directives removed",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), directive.Strip(text))
			return err
		},
	}

	cmd.AddCommand(parse, strip)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
