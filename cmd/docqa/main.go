// Package main is the docqa CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/cli"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/config"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/server"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

var version = "dev"

// Persistent flags.
var (
	configPath string
	debugFlag  bool
	outputFlag string
	serverURL  string
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "Ask questions about uploaded documents",
		Long: `docqa ingests PDF, Word, PowerPoint, Excel and text documents, embeds their
chunks and answers questions grounded in the most similar chunks of one document.

Commands run against the local store unless --server points at a running docqa server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config.yaml if present)")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "output format: text or json")
	root.PersistentFlags().StringVar(&serverURL, "server", "",
		"docqa server URL, e.g. "+cli.DefaultServerURL+" (empty = open the local store directly)")

	root.AddCommand(serverCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(askCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(listCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(versionCmd())
	return root
}

// env is what every command needs: config, logger and output format.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	format cli.OutputFormat
	out    io.Writer
}

func setup(cmd *cobra.Command) (*env, error) {
	format, err := cli.ParseFormat(outputFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag, zap.String("version", version))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger, format: format, out: cmd.OutOrStdout()}, nil
}

func (e *env) client() *cli.Client {
	return cli.NewClient(serverURL, e.cfg.Server.RequestTimeout)
}

// open builds the local pipeline. Callers must Close the result.
func (e *env) open(ctx context.Context) (*Components, error) {
	return initializeComponents(ctx, e.cfg, e.logger)
}

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()
			return runServer(e)
		},
	}
}

func runServer(e *env) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	// Only the server owns ingestion, so only it may fail records left processing.
	if n, err := components.Store.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted ingestions: %w", err)
	} else if n > 0 {
		e.logger.Info("recovered interrupted ingestions", zap.Int("count", n))
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Store,
		e.cfg.Server,
		e.cfg.Ingest.MaxUploadBytes,
		e.logger,
		server.WithVersion(version),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		e.logger.Warn("server shutdown", zap.Error(err))
	}
	return nil
}

func ingestCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "ingest <file-or-directory>",
		Short: "Upload a document, or every supported document under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()
			return runIngest(cmd.Context(), e, args[0], async)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "return as soon as the server accepts the upload (server mode only)")
	return cmd
}

func runIngest(ctx context.Context, e *env, path string, async bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if serverURL != "" {
		c := e.client()
		if !info.IsDir() {
			res, err := c.UploadFile(ctx, path, async)
			if err != nil {
				return reportFailed(e, res, err)
			}
			return cli.WriteResult(e.out, res, e.format)
		}
		var (
			results []*indexer.Result
			errs    []error
		)
		for _, p := range ingestable(path, e.cfg.Ingest.AllowedExtensions) {
			res, err := c.UploadFile(ctx, p, async)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				continue
			}
			results = append(results, res)
		}
		if err := cli.WriteResults(e.out, results, e.format); err != nil {
			return err
		}
		return errors.Join(errs...)
	}

	components, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()
	if !info.IsDir() {
		res, err := components.Indexer.IngestFile(ctx, path)
		if err != nil {
			return reportFailed(e, res, err)
		}
		return cli.WriteResult(e.out, res, e.format)
	}
	results, err := components.Indexer.IngestDirectory(ctx, path)
	if werr := cli.WriteResults(e.out, results, e.format); werr != nil {
		return werr
	}
	return err
}

// reportFailed names the failed document, whose status stays queryable, before returning err.
func reportFailed(e *env, res *indexer.Result, err error) error {
	if res != nil && res.DocumentID != "" {
		e.logger.Debug("ingestion failed", zap.String("doc_id", res.DocumentID), zap.Error(err))
		return fmt.Errorf("document %s failed: %w", res.DocumentID, err)
	}
	return err
}

// ingestable lists regular files under dir with an allowed extension, in walk order.
func ingestable(dir string, allowed []string) []string {
	var paths []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		for _, a := range allowed {
			if strings.EqualFold(a, ext) {
				paths = append(paths, p)
				break
			}
		}
		return nil
	})
	return paths
}

func askCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "ask <doc-id> <question...>",
		Short: "Ask a question about one document",
		Long: `Ask a question about one document. The question is all remaining arguments
joined by spaces, so quoting is optional.`,
		Example: `  docqa ask 3f2a... what is the refund policy
  docqa ask --top-k 8 -o json 3f2a... "who signed the contract?"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			id, question := args[0], buildQuestion(args[1:])
			var ans *models.Answer
			if serverURL != "" {
				ans, err = e.client().Ask(cmd.Context(), id, question, topK)
			} else {
				var components *Components
				components, err = e.open(cmd.Context())
				if err != nil {
					return err
				}
				defer components.Close()
				ans, err = components.Engine.Ask(cmd.Context(), id, question, topK)
			}
			if err != nil {
				return err
			}
			return cli.WriteAnswer(e.out, ans, e.format)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	return cmd
}

// buildQuestion joins positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [doc-id]",
		Short: "Show a document's ingestion status, or store health without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()
			ctx := cmd.Context()

			if serverURL != "" {
				c := e.client()
				if len(args) == 0 {
					h, err := c.Health(ctx)
					if err != nil {
						return err
					}
					return cli.WriteHealth(e.out, h, e.format)
				}
				doc, err := c.Describe(ctx, args[0])
				if err != nil {
					return err
				}
				return cli.WriteDocument(e.out, *doc, e.format)
			}

			components, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer components.Close()
			if len(args) == 0 {
				h := &cli.Health{Status: "ok", Version: version}
				h.Store, err = components.Store.Stats()
				if err != nil {
					h.Status = "degraded"
					e.logger.Warn("store stats failed", zap.Error(err))
				}
				return cli.WriteHealth(e.out, h, e.format)
			}
			doc, err := components.Store.Describe(ctx, args[0])
			if err != nil {
				return err
			}
			return cli.WriteDocument(e.out, doc.View(), e.format)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			var views []models.DocumentView
			if serverURL != "" {
				views, err = e.client().List(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				components, err := e.open(cmd.Context())
				if err != nil {
					return err
				}
				defer components.Close()
				for _, d := range components.Store.List(cmd.Context()) {
					views = append(views, d.View())
				}
			}
			return cli.WriteDocuments(e.out, views, e.format)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			id := args[0]
			if serverURL != "" {
				err = e.client().Delete(cmd.Context(), id)
			} else {
				var components *Components
				components, err = e.open(cmd.Context())
				if err != nil {
					return err
				}
				defer components.Close()
				err = components.Store.Delete(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Document deleted: %s\n", id)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docqa version %s\n", version)
		},
	}
}
