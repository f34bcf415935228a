// Package application orchestrates validation runs: it loads scenarios,
// fans evaluators out per scenario, gathers their results into assertion
// outcomes, and assembles the run report.
package application

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/clinigraph/verity/infrastructure/evaluators"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// Config is the full runner configuration, loadable from YAML.
type Config struct {
	// ScenarioDir is the directory holding scenario documents.
	ScenarioDir string `yaml:"scenario_dir" validate:"required"`

	// Domain optionally restricts the run to one clinical domain.
	Domain string `yaml:"domain"`

	// Concurrency bounds how many scenarios validate in parallel.
	Concurrency int `yaml:"concurrency" validate:"min=1,max=64"`

	// Graph configures the graph fidelity checker.
	Graph evaluators.GraphFidelityConfig `yaml:"graph"`

	// Reasoning configures the reasoning evaluator.
	Reasoning evaluators.ReasoningConfig `yaml:"reasoning"`

	// Answer configures the answer validator.
	Answer evaluators.AnswerConfig `yaml:"answer"`

	// Impact configures the impact simulator.
	Impact evaluators.ImpactConfig `yaml:"impact"`

	// Matcher selects the phrase-matching strategy.
	Matcher MatcherConfig `yaml:"matcher"`

	// GraphStore points the graph fidelity checker at its backing store.
	GraphStore GraphStoreConfig `yaml:"graph_store"`

	// Concepts configures the embedded concept index used for neural
	// reasoning evaluation.
	Concepts ConceptsConfig `yaml:"concepts"`

	// AnswerProvider selects and configures the answer-generation backend.
	AnswerProvider AnswerProviderConfig `yaml:"answer_provider"`
}

// GraphStoreConfig locates the Weaviate instance holding the derived
// graph layers.
type GraphStoreConfig struct {
	// Host is the host:port of the Weaviate instance.
	Host string `yaml:"host" validate:"required"`

	// Scheme is the connection scheme.
	Scheme string `yaml:"scheme" validate:"oneof=http https"`

	// QueryLimit caps elements returned per layer query. Zero keeps the
	// adapter default.
	QueryLimit int `yaml:"query_limit" validate:"min=0"`
}

// ConceptsConfig configures the embedded vector index of clinical
// concepts.
type ConceptsConfig struct {
	// Collection names the vector collection.
	Collection string `yaml:"collection" validate:"required"`

	// SeedFile optionally points to a YAML file of concepts to index at
	// startup.
	SeedFile string `yaml:"seed_file"`

	// CacheSize bounds the query-result cache.
	CacheSize int `yaml:"cache_size" validate:"min=0"`

	// EmbeddingAPIKeyEnv names the environment variable holding the
	// embedding API key.
	EmbeddingAPIKeyEnv string `yaml:"embedding_api_key_env"`
}

// MatcherConfig selects the required-phrase matching strategy.
type MatcherConfig struct {
	// Strategy is "contains" or "fuzzy".
	Strategy string `yaml:"strategy" validate:"oneof=contains fuzzy"`

	// FuzzyThreshold is the minimum similarity for the fuzzy strategy.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" validate:"min=0,max=1"`
}

// AnswerProviderConfig names the registered answer provider and its model.
type AnswerProviderConfig struct {
	// Name is the registered provider name ("openai", "anthropic").
	Name string `yaml:"name"`

	// Model overrides the provider default model.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// RequestsPerSecond caps outbound generation calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
}

// DefaultConfig returns production defaults. Collaborator budgets are
// tiered by expected cost: 100ms graph queries, 250ms concept matching,
// 500ms answer generation, 1s simulation.
func DefaultConfig() Config {
	return Config{
		ScenarioDir: "scenarios",
		Concurrency: 4,
		Graph:       evaluators.DefaultGraphFidelityConfig(),
		Reasoning:   evaluators.DefaultReasoningConfig(),
		Answer:      evaluators.DefaultAnswerConfig(),
		Impact:      evaluators.DefaultImpactConfig(),
		Matcher: MatcherConfig{
			Strategy:       "contains",
			FuzzyThreshold: 0.85,
		},
		GraphStore: GraphStoreConfig{
			Host:   "localhost:8080",
			Scheme: "http",
		},
		Concepts: ConceptsConfig{
			Collection:         "clinical-concepts",
			CacheSize:          256,
			EmbeddingAPIKeyEnv: "OPENAI_API_KEY",
		},
		AnswerProvider: AnswerProviderConfig{
			Name:              "openai",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerSecond: 2,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults and validates the
// result. A missing path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Budgets of zero disable the per-call timeout entirely, which is only
	// sensible in tests; warn-level enforcement belongs to the caller.
	if c.Graph.QueryTimeout < 0 || c.Reasoning.CallTimeout < 0 ||
		c.Answer.CallTimeout < 0 || c.Impact.SimTimeout < 0 {
		return fmt.Errorf("collaborator budgets must not be negative")
	}
	return nil
}
