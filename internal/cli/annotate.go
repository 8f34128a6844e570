package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storysync/internal/annotate"
)

// AnnotateOptions holds flags for the annotate command.
type AnnotateOptions struct {
	*RootOptions
	ScopeFlags

	Entities string   // entity YAML file, overrides config
	Exclude  []string // extra excluded names
	Text     string   // annotate this text instead of a fetched chapter
}

// AnnotateResult is the output of the annotate command.
type AnnotateResult struct {
	Entities int                    `json:"entities"`
	Text     []annotate.Range       `json:"text,omitempty"`
	Blocks   []annotate.BlockRanges `json:"blocks,omitempty"`
	Mentions int                    `json:"mentions"`
}

func (r AnnotateResult) renderText(w io.Writer) error {
	for _, rg := range r.Text {
		fmt.Fprintf(w, "%d-%d  %s  %q\n", rg.Start, rg.End, rg.EntityID, rg.Text)
	}
	for _, b := range r.Blocks {
		for _, rg := range b.Ranges {
			fmt.Fprintf(w, "%4d  %s  %d-%d  %s  %q\n", b.Place, b.KeyID, rg.Start, rg.End, rg.EntityID, rg.Text)
		}
	}
	_, err := fmt.Fprintf(w, "%d mentions of %d entities\n", r.Mentions, r.Entities)
	return err
}

// NewAnnotateCommand creates the annotate command.
func NewAnnotateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnnotateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Find entity mentions in a chapter or a piece of text",
		Long: `Match the names and aliases of story entities against paragraph text and
print each mention as a byte range. Longer names win over shorter ones and
matches never start or end inside a word.

The entity file is YAML: a list of {id, type, name, aliases, case_sensitive}.

Examples:
  storysync annotate --entities entities.yaml --text "Mara met the Duke."
  storysync annotate --story s1 --chapter c1 --exclude Rose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(opts, cmd)
		},
	}

	opts.ScopeFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Entities, "entities", "", "entity YAML file (default from config)")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "names never decorated")
	cmd.Flags().StringVar(&opts.Text, "text", "", "annotate this text instead of fetching a chapter")

	return cmd
}

func runAnnotate(opts *AnnotateOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	path := opts.Entities
	if path == "" {
		path = cfg.Annotate.Entities
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no entity file (--entities or annotate.entities in config)")
	}
	entities, err := annotate.LoadEntities(path, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load entities", err)
	}

	exclusions := append(append([]string{}, cfg.Annotate.Exclusions...), opts.Exclude...)
	m := annotate.Compile(entities, exclusions, logger)

	result := AnnotateResult{Entities: m.Len()}
	if strings.TrimSpace(opts.Text) != "" {
		result.Text = m.Ranges(opts.Text)
		result.Mentions = len(result.Text)
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}

	scope, err := resolveScope(opts.ScopeFlags, cfg)
	if err != nil {
		return err
	}
	blocks, err := newClient(opts.ScopeFlags, cfg, logger).FetchChapter(cmd.Context(), scope.StoryID, scope.ChapterID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to fetch chapter", err)
	}
	result.Blocks = m.AnnotateBlocks(blocks)
	for _, b := range result.Blocks {
		result.Mentions += len(b.Ranges)
	}

	return newFormatter(opts.RootOptions, cmd).Success(result)
}
