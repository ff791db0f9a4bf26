package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shivangsoni/ClaimsAI/internal/config"
	"github.com/shivangsoni/ClaimsAI/internal/extract"
	"github.com/shivangsoni/ClaimsAI/internal/httpapi"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := config.New("")

	root := &cobra.Command{
		Use:   "claimsai",
		Short: "ClaimsAI - insurance claim analysis and lifecycle service",
		Long: `ClaimsAI analyzes insurance claim documents against approved-claim
references using a chain of inference backends, and tracks each claim
through its review lifecycle with a full transition audit trail.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")

	root.AddCommand(newServeCmd(v), newAnalyzeCmd(v), newClaimCmd(v), newConfigCmd(v), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "claimsai %s\n", version)
		},
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the claim HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().String("db", "", "sqlite database path (empty keeps claims in memory)")
	cmd.Flags().StringSlice("backends", nil, "backend priority order: flow, chain, graph")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("db_path", cmd.Flags().Lookup("db"))
	_ = v.BindPFlag("backends", cmd.Flags().Lookup("backends"))
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if !a.pdf.Available() {
		log.Printf("pdf export disabled: no chrome or chromium found")
	}
	handler := httpapi.NewServer(a.service, a.pdf)

	log.Printf("claimsai listening on %s (backends=%s telemetry=%s db=%q)",
		cfg.Addr, strings.Join(a.orch.BackendNames(), ","), cfg.Telemetry.Mode, cfg.DBPath)
	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newAnalyzeCmd(v *viper.Viper) *cobra.Command {
	var (
		text      string
		claimType string
		compare   bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze one claim document and print the result as JSON",
		Long: `Analyze a claim document (pdf, image or text file) or inline text
against the configured reference profiles. Use "-" to read text from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd.Context(), cmd.InOrStdin(), args, text)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			out, err := a.service.AnalyzeText(cmd.Context(), doc, claimType)
			if err != nil {
				return err
			}
			if !compare {
				out.Comparison = nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "inline document text instead of a file")
	cmd.Flags().StringVar(&claimType, "claim-type", "", "reference profile to compare against")
	cmd.Flags().BoolVar(&compare, "compare", false, "also score the document against every profile")
	return cmd
}

func readDocument(ctx context.Context, stdin io.Reader, args []string, text string) (string, error) {
	if strings.TrimSpace(text) != "" {
		if len(args) > 0 {
			return "", errors.New("pass either a file or --text, not both")
		}
		return text, nil
	}
	if len(args) == 0 {
		return "", errors.New("a document file or --text is required")
	}
	if args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, extract.MaxUploadBytes+1))
		if err != nil {
			return "", err
		}
		res, err := extract.New().Extract(ctx, data, "txt")
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	res, err := extract.New().Extract(ctx, data, filepath.Base(args[0]))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", args[0], err)
	}
	return res.Text, nil
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect ClaimsAI configuration",
		Long: `Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (CLAIMSAI_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
3. Config file (--config)
4. Defaults`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if f := v.ConfigFileUsed(); f != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n", f)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}
