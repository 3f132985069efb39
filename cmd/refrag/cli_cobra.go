package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/refrag/pkg/config"
	"github.com/dotsetgreg/refrag/pkg/engine"
	"github.com/dotsetgreg/refrag/pkg/logger"
	"github.com/dotsetgreg/refrag/pkg/providers"
	"github.com/dotsetgreg/refrag/pkg/store"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "refrag",
		Short: "Risk-tiered retrieval context engine with banded token budgets",
		Long: strings.TrimSpace(`refrag assembles grounded LLM context from a local chunk store.

Queries are risk-classified, candidate chunks are scored and packed into
three context bands under per-risk token budgets, and generated answers are
verified against the risk class's hard requirements.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().String("config", defaultConfigPath(), "Path to the refrag config file")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(newIngestCommand())
	root.AddCommand(newAskCommand())
	root.AddCommand(newClassifyCommand())
	root.AddCommand(newChunksCommand())
	root.AddCommand(newBudgetsCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func loadCLIConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger.SetDebug(true)
	}
	return config.LoadConfig(path)
}

func newIngestCommand() *cobra.Command {
	var (
		source  string
		domains []string
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Split documents into chunks and add them to the local store",
		Example: strings.Join([]string{
			"  refrag ingest docs/*.md",
			"  refrag ingest --domain medical --source guidelines notes.txt",
		}, "\n"),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.StorePath())
			if err != nil {
				return err
			}
			defer st.Close()

			embedder := engine.NewLocalEmbedder()
			ctx := cmd.Context()
			total := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				src := source
				if src == "" {
					src = filepath.Base(path)
				}
				count, err := ingestDocument(ctx, st, embedder, string(data), src, domains)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				logger.InfoCF("ingest", "Stored document chunks", map[string]interface{}{
					"path":   path,
					"chunks": count,
				})
				total += count
			}
			fmt.Printf("ingested %d chunks from %d files\n", total, len(args))
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source label attached to every chunk (default: file name)")
	cmd.Flags().StringSliceVarP(&domains, "domain", "d", nil, "Domain tags attached to every chunk")
	return cmd
}

// ingestDocument splits text on blank lines and stores each paragraph of
// meaningful length as one chunk.
func ingestDocument(ctx context.Context, st *store.SQLiteStore, embedder engine.Embedder, text, source string, domains []string) (int, error) {
	paragraphs := []string{}
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if len(p) >= 40 {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 && strings.TrimSpace(text) != "" {
		paragraphs = append(paragraphs, strings.TrimSpace(text))
	}

	vectors, err := embedder.EmbedBatch(ctx, paragraphs)
	if err != nil {
		return 0, err
	}

	stored := 0
	now := time.Now()
	for i, p := range paragraphs {
		_, err := st.PutChunk(ctx, engine.Chunk{
			Text:      p,
			Source:    source,
			UpdatedAt: now,
			Embedding: vectors[i],
			Domains:   domains,
		}, embedder.ModelID())
		if err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func newAskCommand() *cobra.Command {
	var (
		message string
		showCtx bool
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Run the full pipeline: classify, retrieve, pack, generate, verify",
		Example: strings.Join([]string{
			"  refrag ask --message \"What medication interactions should I check?\"",
			"  refrag ask   # interactive session",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			pipelineCfg, err := cfg.PipelineConfig()
			if err != nil {
				return err
			}

			st, err := store.NewSQLiteStore(cfg.StorePath())
			if err != nil {
				return err
			}
			defer st.Close()

			generator, err := providers.CreateGenerator(cfg)
			if err != nil {
				return err
			}

			pipeline, err := engine.NewPipeline(pipelineCfg, engine.NewLocalEmbedder(), st, generator)
			if err != nil {
				return err
			}

			if strings.TrimSpace(message) != "" {
				return runQuery(cmd.Context(), pipeline, message, showCtx, cmd.OutOrStdout())
			}
			return runInteractive(cmd.Context(), pipeline, showCtx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot question (omit for an interactive session)")
	cmd.Flags().BoolVar(&showCtx, "show-context", false, "Print band assignments and budget usage")
	return cmd
}

func runQuery(ctx context.Context, pipeline *engine.Pipeline, query string, showCtx bool, out io.Writer) error {
	result, err := pipeline.Process(ctx, query)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, result.Answer)
	if !result.Verification.Passed {
		fmt.Fprintf(out, "\n[escalated: %s]\n", result.Verification.EscalationRecommendation)
		for _, failure := range result.Verification.Failures {
			fmt.Fprintf(out, "  - %s\n", failure)
		}
	}
	if showCtx {
		printContextSummary(out, result)
	}
	return nil
}

func printContextSummary(out io.Writer, result engine.Result) {
	pack := result.ContextPack
	fmt.Fprintf(out, "\nrisk=%s bandA=%d/%d bandB=%d/%d bandC=%d/%d outcome=%s\n",
		pack.QueryGuard.RiskClass,
		pack.BudgetUsage.BandA.UsedBudget, pack.BudgetUsage.BandA.Limit,
		pack.BudgetUsage.BandB.UsedBudget, pack.BudgetUsage.BandB.Limit,
		pack.BudgetUsage.BandC.UsedBudget, pack.BudgetUsage.BandC.Limit,
		result.Trace.Outcome)
	for _, chunk := range pack.BandA {
		fmt.Fprintf(out, "  A %s (%s)\n", chunk.ID, chunk.Source)
	}
	for _, chunk := range pack.BandB {
		fmt.Fprintf(out, "  B %s (%s)\n", chunk.ID, chunk.Source)
	}
	for _, entry := range pack.BandC {
		fmt.Fprintf(out, "  C %s (%d facts)\n", entry.ChunkID, len(entry.Facts))
	}
}

func runInteractive(ctx context.Context, pipeline *engine.Pipeline, showCtx bool, out io.Writer) error {
	rl, err := readline.New("refrag> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(out, "Interactive session. Ctrl-D or \"exit\" to quit.")
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runQuery(ctx, pipeline, line, showCtx, out); err != nil {
			logger.ErrorCF("ask", "Pipeline run failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "classify <query>",
		Short:   "Print the risk analysis for a query without running retrieval",
		Example: "  refrag classify \"What medication should I take for my headache?\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := engine.AnalyzeQuery(args[0])
			data, err := json.MarshalIndent(classifyView(result), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func classifyView(result engine.QueryGuardResult) map[string]interface{} {
	hints := make([]map[string]interface{}, 0, len(result.ExpansionHints))
	for _, h := range result.ExpansionHints {
		hints = append(hints, map[string]interface{}{
			"type":      h.Type,
			"value":     h.Value,
			"priority":  h.Priority,
			"mandatory": h.Mandatory,
		})
	}
	return map[string]interface{}{
		"risk_class":        result.RiskClass.String(),
		"hard_requirements": result.HardRequirements,
		"expansion_hints":   hints,
		"confidence":        result.Metadata.Confidence,
		"entities":          result.Metadata.DetectedEntities,
		"domains":           result.Metadata.DetectedDomains,
	}
}

func newChunksCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "chunks",
		Short:   "List stored chunks, newest first",
		Example: "  refrag chunks --limit 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.StorePath())
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			total, err := st.Count(ctx)
			if err != nil {
				return err
			}
			chunks, err := st.ListChunks(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d chunks stored\n", total)
			for _, chunk := range chunks {
				preview := chunk.Text
				if len([]rune(preview)) > 72 {
					preview = string([]rune(preview)[:72]) + "..."
				}
				fmt.Fprintf(out, "  %s  %s  %s  %s\n",
					chunk.UpdatedAt.Format("2006-01-02 15:04"), chunk.ID, chunk.Source, preview)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum chunks to list")
	return cmd
}

func newBudgetsCommand() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:     "budgets",
		Short:   "Print and validate the per-risk band budget table",
		Example: "  refrag budgets --profile compact",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := engine.DefaultBudgetTable(profile)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "profile: %s\n", profile)
			for _, class := range engine.RiskClasses() {
				b := table[class]
				fmt.Fprintf(out, "  %-8s bandA=%-6d bandB=%-6d bandC=%d\n", class, b.BandA, b.BandB, b.BandC)
			}
			if problems := engine.ValidateBudgets(table); len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintf(out, "invalid: %s\n", p)
				}
				return fmt.Errorf("budget table has %d problems", len(problems))
			}
			fmt.Fprintln(out, "budget table valid")
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "default", "Budget profile (default, compact)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
