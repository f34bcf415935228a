// Command verity validates clinical knowledge-graph transformations
// against declarative scenario documents. It drives the four evaluators
// over a scenario corpus and emits a JSON run report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"gopkg.in/yaml.v3"

	"github.com/clinigraph/verity/infrastructure/evaluators"
	"github.com/clinigraph/verity/infrastructure/middleware"
	"github.com/clinigraph/verity/infrastructure/providers"
	"github.com/clinigraph/verity/infrastructure/store"
	"github.com/clinigraph/verity/internal/application"
	"github.com/clinigraph/verity/internal/ports"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "verity",
		Short: "Validate clinical knowledge transformations",
		Long: "Verity checks that guideline knowledge survives its transformation into\n" +
			"graph, logic, and workflow form. It loads scenario documents, runs the\n" +
			"graph fidelity, reasoning, answer, and impact evaluators against live\n" +
			"collaborators, and scores the declared assertions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newListCommand(opts))
	root.AddCommand(newCheckCommand(opts))
	return root
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "run [scenario-id...]",
		Short: "Run validation for the given scenarios (or all of them)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			config, logger, err := setup(opts)
			if err != nil {
				return err
			}

			scenarioStore := store.NewStore(store.NewDirSource(config.ScenarioDir))
			runner, err := buildRunner(ctx, config, scenarioStore, logger)
			if err != nil {
				return err
			}

			ids := args
			if len(ids) == 0 && config.Domain != "" {
				scenarios, err := scenarioStore.LoadByDomain(ctx, config.Domain)
				if err != nil {
					return fmt.Errorf("selecting domain %q: %w", config.Domain, err)
				}
				for _, s := range scenarios {
					ids = append(ids, s.ID)
				}
			}

			report, err := runner.Run(ctx, ids)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputPath != "" && outputPath != "-" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("creating report file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := report.WriteJSON(out); err != nil {
				return err
			}

			if failed := report.Totals.Failed + report.Totals.Errored; failed > 0 {
				return fmt.Errorf("%d of %d scenarios did not pass", failed, report.Totals.Scenarios)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "report destination, - for stdout")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the scenario ids the store knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, _, err := setup(opts)
			if err != nil {
				return err
			}

			scenarioStore := store.NewStore(store.NewDirSource(config.ScenarioDir))
			ids, err := scenarioStore.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [scenario-id...]",
		Short: "Parse scenario documents without running evaluators",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, _, err := setup(opts)
			if err != nil {
				return err
			}

			scenarioStore := store.NewStore(store.NewDirSource(config.ScenarioDir))
			ids := args
			if len(ids) == 0 {
				if ids, err = scenarioStore.List(cmd.Context()); err != nil {
					return err
				}
			}

			bad := 0
			for _, id := range ids {
				if _, err := scenarioStore.Load(cmd.Context(), id); err != nil {
					bad++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", id)
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d scenarios failed to load", bad, len(ids))
			}
			return nil
		},
	}
}

// setup loads the configuration and builds the process logger.
func setup(opts *rootOptions) (application.Config, *slog.Logger, error) {
	config, err := application.LoadConfig(opts.configPath)
	if err != nil {
		return application.Config{}, nil, err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return config, logger, nil
}

// buildRunner wires the stores, providers, metrics, and evaluators into a
// validation runner.
func buildRunner(ctx context.Context, config application.Config, scenarioStore *store.Store, logger *slog.Logger) (*application.Runner, error) {
	metrics := middleware.NewValidationMetrics(nil)

	graphClient, err := weaviate.NewClient(weaviate.Config{
		Host:   config.GraphStore.Host,
		Scheme: config.GraphStore.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting graph store: %w", err)
	}
	var graphOpts []providers.WeaviateGraphOption
	if config.GraphStore.QueryLimit > 0 {
		graphOpts = append(graphOpts, providers.WithQueryLimit(config.GraphStore.QueryLimit))
	}
	weaviateGraph, err := providers.NewWeaviateGraph(graphClient, logger, graphOpts...)
	if err != nil {
		return nil, err
	}
	graphStore := middleware.InstrumentGraphStore(weaviateGraph, metrics, logger)

	concepts, err := buildConcepts(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	reasoningProvider := middleware.InstrumentReasoningProvider(concepts, metrics, logger)

	key := os.Getenv(config.AnswerProvider.APIKeyEnv)
	answers, err := providers.NewAnswerProvider(config.AnswerProvider.Name, providers.AnswerClientConfig{
		APIKey:            key,
		Model:             config.AnswerProvider.Model,
		RequestsPerSecond: config.AnswerProvider.RequestsPerSecond,
		Timeout:           config.Answer.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	answerProvider := middleware.InstrumentAnswerProvider(answers, metrics, logger)

	matcher, err := buildMatcher(config.Matcher)
	if err != nil {
		return nil, err
	}

	graph, err := evaluators.NewGraphFidelityChecker("graph-fidelity", config.Graph, graphStore)
	if err != nil {
		return nil, err
	}
	reasoning, err := evaluators.NewReasoningEvaluator("reasoning", config.Reasoning, reasoningProvider)
	if err != nil {
		return nil, err
	}
	answer, err := evaluators.NewAnswerValidator("answer", config.Answer, answerProvider, matcher)
	if err != nil {
		return nil, err
	}
	impact, err := evaluators.NewImpactSimulator("impact", config.Impact)
	if err != nil {
		return nil, err
	}
	assertions, err := evaluators.NewAssertionEvaluator("assertions")
	if err != nil {
		return nil, err
	}

	return application.NewRunner(application.RunnerParams{
		Store:       scenarioStore,
		Graph:       graph,
		Reasoning:   reasoning,
		Answer:      answer,
		Impact:      impact,
		Assertions:  assertions,
		Metrics:     metrics,
		Logger:      logger,
		Concurrency: config.Concurrency,
	})
}

// buildConcepts creates the embedded concept index and seeds it when a
// seed file is configured.
func buildConcepts(ctx context.Context, config application.Config, logger *slog.Logger) (*providers.ChromemConcepts, error) {
	embedClient := openai.NewClient(os.Getenv(config.Concepts.EmbeddingAPIKeyEnv))
	embed := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		resp, err := embedClient.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.SmallEmbedding3,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("embedding response carried no vectors")
		}
		return resp.Data[0].Embedding, nil
	})

	concepts, err := providers.NewChromemConcepts(
		config.Concepts.Collection, embed, config.Concepts.CacheSize, logger)
	if err != nil {
		return nil, err
	}

	if config.Concepts.SeedFile != "" {
		data, err := os.ReadFile(config.Concepts.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("reading concept seed file: %w", err)
		}
		var seed []providers.Concept
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("parsing concept seed file: %w", err)
		}
		if err := concepts.IndexConcepts(ctx, seed); err != nil {
			return nil, fmt.Errorf("indexing concepts: %w", err)
		}
		logger.Info("seeded concept index", "count", len(seed))
	}

	return concepts, nil
}

// buildMatcher resolves the configured phrase-matching strategy.
func buildMatcher(config application.MatcherConfig) (ports.ContentMatcher, error) {
	switch config.Strategy {
	case "fuzzy":
		matcher, err := evaluators.NewFuzzyMatcher(config.FuzzyThreshold)
		if err != nil {
			return nil, err
		}
		return matcher, nil
	default:
		return evaluators.NewContainsMatcher(), nil
	}
}
