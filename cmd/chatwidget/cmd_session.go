package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creastat/widget"
	"github.com/creastat/widget/session"
)

// sessionCmd inspects the cached conversation
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the cached conversation",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached conversation as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := widget.OpenSessionStore(*cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Load(cmd.Context())
		switch {
		case errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrCorrupt):
			logger.Info("cached session discarded", zap.Error(err))
			fmt.Fprintln(cmd.OutOrStdout(), "no cached session")
			return nil
		case err != nil:
			return err
		case rec == nil:
			fmt.Fprintln(cmd.OutOrStdout(), "no cached session")
			return nil
		}

		out := struct {
			*session.Record
			SavedAt string `json:"savedAt"`
			Age     string `json:"age"`
		}{
			Record:  rec,
			SavedAt: rec.SavedAt().Format(time.RFC3339),
			Age:     rec.Age(time.Now()).Round(time.Second).String(),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the cached conversation without ending it on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := widget.OpenSessionStore(*cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Purge(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cached session cleared")
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}
