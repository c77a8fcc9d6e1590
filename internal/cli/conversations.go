// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatgate/internal/export"
	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/storage"
	"github.com/jeranaias/chatgate/internal/util"
)

// previewRunes bounds message content in the show table.
const previewRunes = 72

// The CLI edits the store directly. Run it against a store no server is
// writing to, since the per-conversation locks are in-process only.
func newConversationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and maintain stored conversations",
	}
	cmd.AddCommand(
		newConvListCmd(a),
		newConvShowCmd(a),
		newConvExportCmd(a),
		newConvPruneCmd(a),
		newConvCreateCmd(a),
		newConvDeleteCmd(a),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(fn func(storage.Store) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func checkOutput(output string, allowed ...string) error {
	for _, o := range allowed {
		if output == o {
			return nil
		}
	}
	return &UsageError{Field: "output", Value: output, Reason: fmt.Sprintf("must be one of %v", allowed)}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// LIST
// =============================================================================

func newConvListCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output, "table", "json"); err != nil {
				return err
			}
			return a.withStore(func(store storage.Store) error {
				list, err := store.List(cmd.Context())
				if err != nil {
					return &CommandError{Command: "conversations list", Reason: "failed to list conversations", Err: err}
				}
				if output == "json" {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				fmt.Fprintln(cmd.OutOrStdout(), summaryTable(list))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func summaryTable(list []model.Summary) string {
	if len(list) == 0 {
		return "No conversations."
	}
	table := uitable.New()
	table.MaxColWidth = 50
	table.AddRow("ID", "TITLE", "MESSAGES", "UPDATED")
	for _, s := range list {
		table.AddRow(s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	return table.String()
}

// =============================================================================
// SHOW
// =============================================================================

func newConvShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output, "table", "json"); err != nil {
				return err
			}
			return a.withStore(func(store storage.Store) error {
				conv, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output == "json" {
					return writeJSON(cmd.OutOrStdout(), conv)
				}
				fmt.Fprintln(cmd.OutOrStdout(), conversationTable(conv))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func conversationTable(conv *model.Conversation) string {
	header := uitable.New()
	header.AddRow("ID:", conv.ID)
	if conv.Title != "" {
		header.AddRow("Title:", conv.Title)
	}
	header.AddRow("Created:", conv.CreatedAt.Local().Format(time.DateTime))
	if conv.Session != nil {
		header.AddRow("Session:", conv.Session.Backend+" "+conv.Session.Handle)
	}

	table := uitable.New()
	table.MaxColWidth = previewRunes
	table.AddRow("#", "MESSAGE ID", "ROLE", "MODEL", "FEEDBACK", "CONTENT")
	for i, m := range conv.Messages {
		table.AddRow(i+1, m.ID, m.Role, m.Model, m.Feedback, util.TruncateRunes(util.SingleLine(m.Content), previewRunes))
	}
	return header.String() + "\n\n" + table.String()
}

// =============================================================================
// EXPORT
// =============================================================================

func newConvExportCmd(a *app) *cobra.Command {
	var file, format string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a transcript (text, markdown or json)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return &UsageError{Field: "format", Value: format, Reason: fmt.Sprintf("must be one of %v", export.Formats())}
			}
			return a.withStore(func(store storage.Store) error {
				var data []byte
				if f == export.FormatText {
					text, err := store.Export(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					data = []byte(text)
				} else {
					conv, err := store.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					exporter, err := export.For(f, export.DefaultOptions())
					if err != nil {
						return err
					}
					if data, err = exporter.Export(conv); err != nil {
						return &CommandError{Command: "conversations export", Reason: "failed to render " + string(f), Err: err}
					}
				}
				if file == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := util.AtomicWriteFile(file, data, 0600); err != nil {
					return &CommandError{Command: "conversations export", Reason: "failed to write " + file, Err: err}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", args[0], file)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "text", "transcript format (text, markdown, json)")
	return cmd
}

// =============================================================================
// PRUNE / DELETE
// =============================================================================

func newConvPruneCmd(a *app) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune <id>",
		Short: "Keep only the most recent messages",
		Long:  "Keep only the most recent --keep messages. --keep 0 removes the conversation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return &UsageError{Field: "keep", Value: fmt.Sprint(keep), Reason: "must be >= 0"}
			}
			return a.withStore(func(store storage.Store) error {
				if err := store.Prune(cmd.Context(), args[0], keep); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s to %d messages\n", args[0], keep)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "number of most recent messages to keep")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func newConvDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Store) error {
				if err := store.Prune(cmd.Context(), args[0], 0); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

// =============================================================================
// CREATE
// =============================================================================

func newConvCreateCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty conversation and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Store) error {
				conv, err := store.Create(cmd.Context(), title)
				if err != nil {
					return &CommandError{Command: "conversations create", Reason: "failed to create conversation", Err: err}
				}
				fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "conversation title")
	return cmd
}
