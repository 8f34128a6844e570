package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/remote/fakeapi"
)

// MockAPIOptions holds flags for the mock-api command.
type MockAPIOptions struct {
	*RootOptions

	Addr         string
	Seed         string
	PageSize     int
	InlineChunks bool
}

// Seed describes the initial content of a mock API.
type Seed struct {
	Stories []SeedStory `yaml:"stories"`
}

// SeedStory is one story of a seed file.
type SeedStory struct {
	ID           string        `yaml:"id"`
	Provisioning bool          `yaml:"provisioning"`
	Chapters     []SeedChapter `yaml:"chapters"`
}

// SeedChapter is one chapter of a seed story. Blocks are placed in list order.
type SeedChapter struct {
	ID     string      `yaml:"id"`
	Blocks []SeedBlock `yaml:"blocks"`
}

// SeedBlock is one paragraph given as plain text.
type SeedBlock struct {
	Key  string `yaml:"key"`
	Text string `yaml:"text"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}

	for i, st := range seed.Stories {
		if st.ID == "" {
			return nil, fmt.Errorf("seed %s: stories[%d]: id is required", path, i)
		}
		for j, ch := range st.Chapters {
			if ch.ID == "" {
				return nil, fmt.Errorf("seed %s: stories[%d].chapters[%d]: id is required", path, i, j)
			}
			for k, b := range ch.Blocks {
				if b.Key == "" {
					return nil, fmt.Errorf("seed %s: %s/%s blocks[%d]: key is required", path, st.ID, ch.ID, k)
				}
			}
		}
	}
	return &seed, nil
}

// Apply stores the seed content in srv.
func (s *Seed) Apply(srv *fakeapi.Server) {
	for _, st := range s.Stories {
		if len(st.Chapters) == 0 {
			srv.Seed(st.ID, "", nil)
		}
		for _, ch := range st.Chapters {
			blocks := make([]block.ParagraphBlock, len(ch.Blocks))
			for i, b := range ch.Blocks {
				blocks[i] = block.ParagraphBlock{KeyID: b.Key, Place: i, Content: block.TextParagraph(b.Text)}
			}
			srv.Seed(st.ID, ch.ID, blocks)
		}
		if st.Provisioning {
			srv.SetProvisioning(st.ID, true)
		}
	}
}

// NewMockAPICommand creates the mock-api command.
func NewMockAPICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MockAPIOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mock-api",
		Short: "Serve an in-memory story storage API",
		Long: `Serve an in-memory implementation of the story storage API for local
development. Content can be seeded from a YAML file:

  stories:
    - id: s1
      chapters:
        - id: c1
          blocks:
            - {key: a, text: "It was a dark night."}

Examples:
  storysync mock-api --addr 127.0.0.1:8080 --seed seed.yaml
  storysync mock-api --page-size 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockAPI(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML seed file")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "items per content page (0 disables paging)")
	cmd.Flags().BoolVar(&opts.InlineChunks, "inline-chunks", false, "return chunks as inline JSON instead of strings")

	return cmd
}

func runMockAPI(opts *MockAPIOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	srvOpts := []fakeapi.Option{fakeapi.WithPageSize(opts.PageSize), fakeapi.WithLogger(logger)}
	if opts.InlineChunks {
		srvOpts = append(srvOpts, fakeapi.WithInlineChunks())
	}
	api := fakeapi.New(srvOpts...)

	if opts.Seed != "" {
		seed, err := LoadSeed(opts.Seed)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load seed", err)
		}
		seed.Apply(api)
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	defer ln.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Handler: api, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Mock API listening on http://%s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "mock api stopped", err)
		}
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return WrapExitError(ExitFailure, "mock api shutdown", err)
		}
	}

	logger.Info("mock api stopped")
	return nil
}
