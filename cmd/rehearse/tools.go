package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/pkg/audio"
)

func wavCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wav",
		Short: "Inspect WAV recordings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE...",
		Short: "Check that WAV files are accepted by the scoring service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				v := audio.Validate(data)
				if !v.IsValid {
					failed++
					fmt.Fprintf(out, "%s: invalid: %v\n", path, v.Err)
					continue
				}
				h := v.Header
				fmt.Fprintf(out, "%s: ok (%d Hz, %d ch, %d-bit, %d bytes)\n",
					path, h.SampleRate, h.Channels, h.BitsPerSample, h.DataSize)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files invalid", failed, len(args))
			}
			return nil
		},
	})
	return cmd
}

func scriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Work with conversation scripts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE...",
		Short: "Parse and validate script files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				s, err := script.ReadFile(path)
				if err == nil {
					err = script.Validate(s)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok (%s/%s %s, %d lines)\n",
					path, s.ScenarioID, s.CharacterID, s.LanguageCode, len(s.Lines))
			}
			return errors.Join(errs...)
		},
	})
	return cmd
}
