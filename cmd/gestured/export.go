package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/eventstore"
	"github.com/spf13/cobra"
)

func exportCmd(configPath *string) *cobra.Command {
	var (
		output string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export [name]",
		Short: "List stored recordings, or write one recording as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			// Logs go to stderr so a dumped recording can be piped.
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			store, err := eventstore.Open(cmd.Context(), cfg.EventStore, logger)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer store.Close()

			if len(args) == 0 {
				return listRecordings(cmd, store, limit)
			}
			body, err := store.GetRecording(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(output, body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(body), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write the recording to (default stdout)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of recordings to list")
	return cmd
}

func listRecordings(cmd *cobra.Command, store *eventstore.Store, limit int) error {
	list, err := store.ListRecordings(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return writeRecordingTable(cmd.OutOrStdout(), list)
}

func writeRecordingTable(w io.Writer, list []eventstore.RecordingInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROWS\tBYTES\tCREATED")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Name, r.Rows, r.Bytes, r.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
