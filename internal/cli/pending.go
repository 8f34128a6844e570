package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storysync/internal/op"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	ScopeFlags

	All bool
}

// PendingOperation summarizes one journaled operation.
type PendingOperation struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Timestamp int64    `json:"timestamp"`
	Keys      []string `json:"keys,omitempty"`
}

// PendingScope lists the journaled operations of one chapter.
type PendingScope struct {
	StoryID    string             `json:"story_id"`
	ChapterID  string             `json:"chapter_id"`
	Operations []PendingOperation `json:"operations"`
}

// PendingResult is the output of the pending command.
type PendingResult struct {
	Scopes []PendingScope `json:"scopes"`
	Total  int            `json:"total"`
}

func (r PendingResult) renderText(w io.Writer) error {
	if r.Total == 0 {
		_, err := fmt.Fprintln(w, "no pending operations")
		return err
	}
	for _, sc := range r.Scopes {
		fmt.Fprintf(w, "%s/%s (%d)\n", sc.StoryID, sc.ChapterID, len(sc.Operations))
		for _, o := range sc.Operations {
			fmt.Fprintf(w, "  %6d  %-10s %s  %v\n", o.Timestamp, o.Kind, o.ID[:12], o.Keys)
		}
	}
	return nil
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List operations kept in the journal",
		Long: `List the operations the journal still holds: sent-but-unacknowledged
or never-sent work that the next sync of the chapter will replay.

Examples:
  storysync pending --story s1 --chapter c1
  storysync pending --all --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(opts, cmd)
		},
	}

	opts.ScopeFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.All, "all", false, "list every chapter with pending operations")

	return cmd
}

func runPending(opts *PendingOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var scopes []op.Scope
	if opts.All {
		scopes, err = j.Scopes(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list journal scopes", err)
		}
	} else {
		sc, err := resolveScope(opts.ScopeFlags, cfg)
		if err != nil {
			return err
		}
		scopes = []op.Scope{sc}
	}

	result := PendingResult{Scopes: make([]PendingScope, 0, len(scopes))}
	for _, sc := range scopes {
		ops, err := j.Pending(ctx, sc)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read journal", err)
		}
		ps := PendingScope{StoryID: sc.StoryID, ChapterID: sc.ChapterID, Operations: make([]PendingOperation, 0, len(ops))}
		for _, o := range ops {
			po, err := summarize(o)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read journal", err)
			}
			ps.Operations = append(ps.Operations, po)
		}
		result.Total += len(ps.Operations)
		result.Scopes = append(result.Scopes, ps)
	}

	return newFormatter(opts.RootOptions, cmd).Success(result)
}

func summarize(o op.Operation) (PendingOperation, error) {
	id, err := op.ID(o)
	if err != nil {
		return PendingOperation{}, err
	}
	po := PendingOperation{ID: id, Kind: o.Kind().String(), Timestamp: o.Head().Timestamp}
	_ = op.Switch(o, op.Cases{
		Save: func(s op.Save) error {
			for _, b := range s.Blocks {
				po.Keys = append(po.Keys, b.KeyID)
			}
			return nil
		},
		Delete: func(d op.Delete) error {
			po.Keys = append(po.Keys, d.Keys...)
			return nil
		},
		SyncOrder: func(s op.SyncOrder) error {
			for _, p := range s.Order {
				po.Keys = append(po.Keys, p.KeyID)
			}
			return nil
		},
	})
	return po, nil
}
