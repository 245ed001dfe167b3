package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DocQA-Labs/docrag/configs"
)

// Config represents the complete docrag configuration.
type Config struct {
	Version    int                       `yaml:"version" json:"version"`
	Paths      PathsConfig               `yaml:"paths" json:"paths"`
	LLM        LLMConfig                 `yaml:"llm" json:"llm"`
	Retrieval  RetrievalConfig           `yaml:"retrieval" json:"retrieval"`
	Navigator  NavigatorConfig           `yaml:"navigator" json:"navigator"`
	Cache      CacheConfig               `yaml:"cache" json:"cache"`
	Ingest     IngestConfig              `yaml:"ingest" json:"ingest"`
	Scenario   ScenarioConfig            `yaml:"scenario" json:"scenario"`
	Scenarios  map[string]ScenarioConfig `yaml:"scenarios" json:"scenarios"`
	Server     ServerConfig              `yaml:"server" json:"server"`
	Daemon     DaemonConfig              `yaml:"daemon" json:"daemon"`
	Telemetry  TelemetryConfig           `yaml:"telemetry" json:"telemetry"`
	Watcher    WatcherConfig             `yaml:"watcher" json:"watcher"`
	Namespaces NamespacesConfig          `yaml:"namespaces" json:"namespaces"`
}

// PathsConfig configures where documents and indices live on disk.
type PathsConfig struct {
	// DataDir is the root under which databases/ and documents/ are kept.
	// Defaults to the current directory.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DatabasesDir returns the root of the index storage tree.
func (p PathsConfig) DatabasesDir() string {
	return filepath.Join(p.DataDir, "databases")
}

// VectorDir returns the root of the per-namespace vector index tree.
func (p PathsConfig) VectorDir() string {
	return filepath.Join(p.DatabasesDir(), "vector_dbs")
}

// BM25Dir returns the root of the per-namespace keyword index tree.
func (p PathsConfig) BM25Dir() string {
	return filepath.Join(p.DatabasesDir(), "bm25")
}

// DocumentsDir returns the root of the pre-parsed document inputs.
func (p PathsConfig) DocumentsDir() string {
	return filepath.Join(p.DataDir, "documents")
}

// CacheDir returns the directory for cache snapshots.
func (p PathsConfig) CacheDir() string {
	return filepath.Join(p.DatabasesDir(), "cache")
}

// LLMConfig configures the model gateway.
// All chat and embedding traffic goes through one OpenAI-compatible endpoint
// (DashScope by default). The "static" provider is a deterministic offline
// stand-in for tests and air-gapped machines.
type LLMConfig struct {
	// Provider selects the gateway backend: "openai" (default) or "static".
	Provider string `yaml:"provider" json:"provider"`
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey authenticates against BaseURL. Prefer the DOCRAG_API_KEY
	// environment variable over writing the key into a config file.
	APIKey string `yaml:"api_key" json:"-"`

	// FastModel handles query analysis and routing.
	FastModel string `yaml:"fast_model" json:"fast_model"`
	// MidModel handles answer generation.
	MidModel string `yaml:"mid_model" json:"mid_model"`
	// QualityModel handles answer verification.
	QualityModel string `yaml:"quality_model" json:"quality_model"`
	// EmbeddingModel produces the vectors for semantic retrieval.
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	// EmbeddingDimensions pins the vector dimension. 0 probes the provider.
	EmbeddingDimensions int `yaml:"embedding_dimensions" json:"embedding_dimensions"`

	// ChatTimeout is the per-call deadline for chat completions (default 60s).
	ChatTimeout string `yaml:"chat_timeout" json:"chat_timeout"`
	// EmbedTimeout is the per-call deadline for embedding batches (default 30s).
	EmbedTimeout string `yaml:"embed_timeout" json:"embed_timeout"`
	// RequestTimeout bounds a whole question pipeline (default 90s).
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	// EmbedCacheSize is the LRU capacity for query-embedding reuse.
	EmbedCacheSize int `yaml:"embed_cache_size" json:"embed_cache_size"`
}

// RetrievalConfig configures hybrid retrieval.
// Weights and the RRF constant are configurable via:
//  1. User config (~/.config/docrag/config.yaml) - personal defaults
//  2. Project config (.docrag/config.yaml) - per-deployment tuning
//  3. Env vars (DOCRAG_BM25_WEIGHT, DOCRAG_VECTOR_WEIGHT, DOCRAG_RRF_K) - highest priority
type RetrievalConfig struct {
	// RetrieveK is the number of context chunks handed to generation.
	RetrieveK int `yaml:"retrieve_k" json:"retrieve_k"`
	// UseBM25 enables the keyword leg.
	UseBM25 bool `yaml:"use_bm25" json:"use_bm25"`
	// UseVector enables the semantic leg.
	UseVector bool `yaml:"use_vector" json:"use_vector"`
	// RRFK is the reciprocal-rank-fusion smoothing constant.
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	RRFK int `yaml:"rrf_k" json:"rrf_k"`
	// BM25Weight is the RRF weight of the keyword leg. Must sum to 1.0
	// with VectorWeight.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`
	// VectorWeight is the RRF weight of the semantic leg.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	// MinSimilarity drops vector hits below this cosine similarity.
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`

	// KeywordBackend selects the BM25 index backend.
	// Options: "native" (default, exact Okapi scoring) or "bleve".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`
	// VectorBackend selects the vector index backend.
	// Options: "flat" (default, exact inner product) or "hnsw" (approximate).
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	// Presence markers for the booleans. A YAML false is indistinguishable
	// from "not set" after decoding, and both legs default to true, so merge
	// needs to know whether the file actually carried the key.
	useBM25Set   bool
	useVectorSet bool
}

// UnmarshalYAML decodes the block and records which boolean keys were present.
func (r *RetrievalConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain RetrievalConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = RetrievalConfig(p)
	for _, key := range mappingKeys(node) {
		switch key {
		case "use_bm25":
			r.useBM25Set = true
		case "use_vector":
			r.useVectorSet = true
		}
	}
	return nil
}

// NavigatorConfig configures layered context reduction.
type NavigatorConfig struct {
	// MaxRounds bounds the reduction loop (default 3).
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`
	// TargetTokens is the context budget the loop reduces toward (default 2000).
	TargetTokens int `yaml:"target_tokens" json:"target_tokens"`
}

// CacheConfig configures the two-tier answer cache.
type CacheConfig struct {
	// Enabled turns the cache on (default true).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// SemanticThreshold is the minimum cosine similarity for a semantic hit.
	SemanticThreshold float64 `yaml:"semantic_threshold" json:"semantic_threshold"`
	// ExactTTL is the exact-layer entry lifetime (default "168h" = 7 days).
	ExactTTL string `yaml:"exact_ttl" json:"exact_ttl"`
	// SemanticTTL is the semantic-layer entry lifetime (default "72h" = 3 days).
	SemanticTTL string `yaml:"semantic_ttl" json:"semantic_ttl"`
	// MaxSize caps the exact layer; the semantic layer holds half as many.
	MaxSize int `yaml:"max_size" json:"max_size"`
	// Persist enables best-effort exact-layer snapshots to disk (default false).
	Persist bool `yaml:"persist" json:"persist"`

	enabledSet bool
	persistSet bool
}

// UnmarshalYAML decodes the block and records which boolean keys were present.
func (cc *CacheConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain CacheConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*cc = CacheConfig(p)
	for _, key := range mappingKeys(node) {
		switch key {
		case "enabled":
			cc.enabledSet = true
		case "persist":
			cc.persistSet = true
		}
	}
	return nil
}

// IngestConfig configures namespace preparation.
type IngestConfig struct {
	// ChunkSize is the character budget per chunk for raw text/markdown inputs.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap carries trailing characters into the next chunk.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// EmbedBatch is the number of texts per embedding call (default 10).
	EmbedBatch int `yaml:"embed_batch" json:"embed_batch"`
	// Workers bounds the per-file build fan-out.
	Workers int `yaml:"workers" json:"workers"`
}

// ScenarioConfig carries per-scenario behavior: routing markers, the keyword
// library, citation grammar, and the generation system prompt. The top-level
// Scenario block is the default; entries under Scenarios override it per
// scenario_id.
type ScenarioConfig struct {
	// SystemPrompt is the generation system prompt.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
	// GuidanceMarkers classify a question as guidance when analysis JSON fails.
	GuidanceMarkers []string `yaml:"guidance_markers" json:"guidance_markers"`
	// AnalysisMarkers classify a question as analysis when analysis JSON fails.
	AnalysisMarkers []string `yaml:"analysis_markers" json:"analysis_markers"`
	// ContinuationMarkers flag a chunk as continuing on the next page.
	ContinuationMarkers []string `yaml:"continuation_markers" json:"continuation_markers"`
	// NonTerminalSuffixes flag a chunk as cut off mid-sentence.
	NonTerminalSuffixes []string `yaml:"non_terminal_suffixes" json:"non_terminal_suffixes"`
	// KeywordLibrary maps a question category to supplemental retrieval keywords.
	KeywordLibrary map[string][]string `yaml:"keyword_library" json:"keyword_library"`
	// CitationPatterns is the ordered regex list for citation extraction.
	CitationPatterns []string `yaml:"citation_patterns" json:"citation_patterns"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	// Defaults to ~/.docrag/daemon.sock.
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	// PidFile records the daemon pid. Defaults to ~/.docrag/daemon.pid.
	PidFile string `yaml:"pid_file" json:"pid_file"`
}

// TelemetryConfig configures the local metrics store.
type TelemetryConfig struct {
	// Enabled turns query telemetry on (default true).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// DBPath is the sqlite database location.
	// Defaults to ~/.docrag/telemetry.db.
	DBPath string `yaml:"db_path" json:"db_path"`

	enabledSet bool
}

// UnmarshalYAML decodes the block and records whether enabled was present.
func (tc *TelemetryConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain TelemetryConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*tc = TelemetryConfig(p)
	for _, key := range mappingKeys(node) {
		if key == "enabled" {
			tc.enabledSet = true
		}
	}
	return nil
}

// WatcherConfig configures index-file change detection.
type WatcherConfig struct {
	// Enabled turns the fsnotify watcher on (default false, opt-in).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Debounce coalesces change bursts (default "500ms").
	Debounce string `yaml:"debounce" json:"debounce"`

	enabledSet bool
}

// UnmarshalYAML decodes the block and records whether enabled was present.
func (wc *WatcherConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain WatcherConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*wc = WatcherConfig(p)
	for _, key := range mappingKeys(node) {
		if key == "enabled" {
			wc.enabledSet = true
		}
	}
	return nil
}

// mappingKeys returns the scalar keys of a YAML mapping node.
func mappingKeys(node *yaml.Node) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}

// NamespacesConfig configures the in-memory namespace registry.
type NamespacesConfig struct {
	// MaxLoaded caps concurrently loaded namespaces; older ones are evicted.
	MaxLoaded int `yaml:"max_loaded" json:"max_loaded"`
}

// Default markers and citation grammar for Chinese document QA.
// Scenarios override these per deployment.
var (
	defaultGuidanceMarkers     = []string{"如何", "怎么", "怎样", "建议"}
	defaultAnalysisMarkers     = []string{"分析", "比较", "评估", "判断"}
	defaultContinuationMarkers = []string{"（续", "接上"}
	defaultNonTerminalSuffixes = []string{"：", "，"}

	// Ordered: page, article, paragraph, chapter, appendix, bracketed
	// numerals, parenthesized page.
	defaultCitationPatterns = []string{
		`第\s*(\d+)\s*页`,
		`第\s*([一二三四五六七八九十百零0-9]+)\s*条`,
		`第\s*(\d+)\s*段`,
		`第\s*([一二三四五六七八九十百零0-9]+)\s*章`,
		`附录\s*([A-Za-z0-9一二三四五六七八九十]+)`,
		`【(\d+)】`,
		`[（(]\s*第?\s*(\d+)\s*页?\s*[）)]`,
	}
)

const defaultSystemPrompt = "你是一名严谨的文档问答助手。请仅依据提供的文档内容回答问题，" +
	"并在回答中标注依据的页码或条款编号；文档中找不到依据时，请明确说明。"

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: ".",
		},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKey:   "", // Read from DOCRAG_API_KEY / DASHSCOPE_API_KEY
			// Three model tiers: fast for analysis and routing, mid for
			// generation, quality for verification.
			FastModel:           "qwen-turbo",
			MidModel:            "qwen-plus",
			QualityModel:        "qwen-max",
			EmbeddingModel:      "text-embedding-v3",
			EmbeddingDimensions: 0, // Probe the provider
			ChatTimeout:         "60s",
			EmbedTimeout:        "30s",
			RequestTimeout:      "90s",
			EmbedCacheSize:      512,
		},
		Retrieval: RetrievalConfig{
			RetrieveK: 5,
			UseBM25:   true,
			UseVector: true,
			// RRF constant k=60 is industry standard (Azure AI Search, OpenSearch)
			RRFK:           60,
			BM25Weight:     0.5,
			VectorWeight:   0.5,
			MinSimilarity:  0.5,
			KeywordBackend: "native",
			VectorBackend:  "flat",
		},
		Navigator: NavigatorConfig{
			MaxRounds:    3,
			TargetTokens: 2000,
		},
		Cache: CacheConfig{
			Enabled:           true,
			SemanticThreshold: 0.95,
			ExactTTL:          "168h", // 7 days
			SemanticTTL:       "72h",  // 3 days
			MaxSize:           1000,
			Persist:           false,
		},
		Ingest: IngestConfig{
			ChunkSize:    800,
			ChunkOverlap: 100,
			EmbedBatch:   10,
			Workers:      runtime.NumCPU(),
		},
		Scenario: ScenarioConfig{
			SystemPrompt:        defaultSystemPrompt,
			GuidanceMarkers:     defaultGuidanceMarkers,
			AnalysisMarkers:     defaultAnalysisMarkers,
			ContinuationMarkers: defaultContinuationMarkers,
			NonTerminalSuffixes: defaultNonTerminalSuffixes,
			KeywordLibrary:      map[string][]string{},
			CitationPatterns:    defaultCitationPatterns,
		},
		Scenarios: map[string]ScenarioConfig{},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
			LogLevel:  "info",
		},
		Daemon: DaemonConfig{
			SocketPath: defaultDaemonSocket(),
			PidFile:    defaultDaemonPidFile(),
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			DBPath:  defaultTelemetryPath(),
		},
		Watcher: WatcherConfig{
			Enabled:  false, // Opt-in
			Debounce: "500ms",
		},
		Namespaces: NamespacesConfig{
			MaxLoaded: 8,
		},
	}
}

// ScenarioFor returns the effective scenario config for a scenario id:
// the default Scenario block with any per-scenario override applied on top.
func (c *Config) ScenarioFor(scenarioID string) ScenarioConfig {
	sc := c.Scenario
	o, ok := c.Scenarios[scenarioID]
	if !ok {
		return sc
	}
	if o.SystemPrompt != "" {
		sc.SystemPrompt = o.SystemPrompt
	}
	if len(o.GuidanceMarkers) > 0 {
		sc.GuidanceMarkers = o.GuidanceMarkers
	}
	if len(o.AnalysisMarkers) > 0 {
		sc.AnalysisMarkers = o.AnalysisMarkers
	}
	if len(o.ContinuationMarkers) > 0 {
		sc.ContinuationMarkers = o.ContinuationMarkers
	}
	if len(o.NonTerminalSuffixes) > 0 {
		sc.NonTerminalSuffixes = o.NonTerminalSuffixes
	}
	if len(o.KeywordLibrary) > 0 {
		sc.KeywordLibrary = o.KeywordLibrary
	}
	if len(o.CitationPatterns) > 0 {
		sc.CitationPatterns = o.CitationPatterns
	}
	return sc
}

// defaultDaemonSocket returns the default daemon socket path.
func defaultDaemonSocket() string {
	return filepath.Join(docragHome(), "daemon.sock")
}

// defaultDaemonPidFile returns the default daemon pidfile path.
func defaultDaemonPidFile() string {
	return filepath.Join(docragHome(), "daemon.pid")
}

// defaultTelemetryPath returns the default telemetry database path.
func defaultTelemetryPath() string {
	return filepath.Join(docragHome(), "telemetry.db")
}

// docragHome returns ~/.docrag, falling back to the temp dir.
func docragHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docrag")
	}
	return filepath.Join(home, ".docrag")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "docrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	// Check if file exists
	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	// Load the config
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults + embedded configs/default.yaml
//  2. User/global config (~/.config/docrag/config.yaml)
//  3. Project config (.docrag/config.yaml in project root)
//  4. Environment variables (DOCRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Apply the embedded default file. It mirrors NewConfig and is
	// the single annotated reference for every key.
	if err := cfg.mergeYAMLBytes([]byte(configs.DefaultConfigTemplate)); err != nil {
		return nil, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}

	// Step 2: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 3: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 4: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 5: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .docrag/config.yaml
// or a legacy .docrag.yaml at the project root.
func (c *Config) loadFromFile(dir string) error {
	// Preferred location
	yamlPath := filepath.Join(dir, ".docrag", "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Flat file fallback
	flatPath := filepath.Join(dir, ".docrag.yaml")
	if _, err := os.Stat(flatPath); err == nil {
		return c.loadYAML(flatPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := c.mergeYAMLBytes(data); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeYAMLBytes parses YAML and merges non-zero values into c.
func (c *Config) mergeYAMLBytes(data []byte) error {
	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.FastModel != "" {
		c.LLM.FastModel = other.LLM.FastModel
	}
	if other.LLM.MidModel != "" {
		c.LLM.MidModel = other.LLM.MidModel
	}
	if other.LLM.QualityModel != "" {
		c.LLM.QualityModel = other.LLM.QualityModel
	}
	if other.LLM.EmbeddingModel != "" {
		c.LLM.EmbeddingModel = other.LLM.EmbeddingModel
	}
	if other.LLM.EmbeddingDimensions != 0 {
		c.LLM.EmbeddingDimensions = other.LLM.EmbeddingDimensions
	}
	if other.LLM.ChatTimeout != "" {
		c.LLM.ChatTimeout = other.LLM.ChatTimeout
	}
	if other.LLM.EmbedTimeout != "" {
		c.LLM.EmbedTimeout = other.LLM.EmbedTimeout
	}
	if other.LLM.RequestTimeout != "" {
		c.LLM.RequestTimeout = other.LLM.RequestTimeout
	}
	if other.LLM.EmbedCacheSize != 0 {
		c.LLM.EmbedCacheSize = other.LLM.EmbedCacheSize
	}

	// Retrieval weights and RRF constant
	// Note: 0 is not a practical value for weights, so we only merge non-zero values
	if other.Retrieval.RetrieveK != 0 {
		c.Retrieval.RetrieveK = other.Retrieval.RetrieveK
	}
	if other.Retrieval.RRFK != 0 {
		c.Retrieval.RRFK = other.Retrieval.RRFK
	}
	if other.Retrieval.BM25Weight != 0 {
		c.Retrieval.BM25Weight = other.Retrieval.BM25Weight
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.MinSimilarity != 0 {
		c.Retrieval.MinSimilarity = other.Retrieval.MinSimilarity
	}
	if other.Retrieval.KeywordBackend != "" {
		c.Retrieval.KeywordBackend = other.Retrieval.KeywordBackend
	}
	if other.Retrieval.VectorBackend != "" {
		c.Retrieval.VectorBackend = other.Retrieval.VectorBackend
	}
	// Booleans merge only when the file carried the key (see UnmarshalYAML).
	if other.Retrieval.useBM25Set {
		c.Retrieval.UseBM25 = other.Retrieval.UseBM25
		c.Retrieval.useBM25Set = true
	}
	if other.Retrieval.useVectorSet {
		c.Retrieval.UseVector = other.Retrieval.UseVector
		c.Retrieval.useVectorSet = true
	}

	// Navigator
	if other.Navigator.MaxRounds != 0 {
		c.Navigator.MaxRounds = other.Navigator.MaxRounds
	}
	if other.Navigator.TargetTokens != 0 {
		c.Navigator.TargetTokens = other.Navigator.TargetTokens
	}

	// Cache
	if other.Cache.SemanticThreshold != 0 {
		c.Cache.SemanticThreshold = other.Cache.SemanticThreshold
	}
	if other.Cache.ExactTTL != "" {
		c.Cache.ExactTTL = other.Cache.ExactTTL
	}
	if other.Cache.SemanticTTL != "" {
		c.Cache.SemanticTTL = other.Cache.SemanticTTL
	}
	if other.Cache.MaxSize != 0 {
		c.Cache.MaxSize = other.Cache.MaxSize
	}
	if other.Cache.enabledSet {
		c.Cache.Enabled = other.Cache.Enabled
		c.Cache.enabledSet = true
	}
	if other.Cache.persistSet {
		c.Cache.Persist = other.Cache.Persist
		c.Cache.persistSet = true
	}

	// Ingest
	if other.Ingest.ChunkSize != 0 {
		c.Ingest.ChunkSize = other.Ingest.ChunkSize
	}
	if other.Ingest.ChunkOverlap != 0 {
		c.Ingest.ChunkOverlap = other.Ingest.ChunkOverlap
	}
	if other.Ingest.EmbedBatch != 0 {
		c.Ingest.EmbedBatch = other.Ingest.EmbedBatch
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}

	// Scenario defaults
	c.Scenario = mergeScenario(c.Scenario, other.Scenario)
	// Per-scenario overrides replace wholesale
	for id, sc := range other.Scenarios {
		if c.Scenarios == nil {
			c.Scenarios = map[string]ScenarioConfig{}
		}
		c.Scenarios[id] = sc
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Daemon
	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.PidFile != "" {
		c.Daemon.PidFile = other.Daemon.PidFile
	}

	// Telemetry
	if other.Telemetry.DBPath != "" {
		c.Telemetry.DBPath = other.Telemetry.DBPath
	}
	if other.Telemetry.enabledSet {
		c.Telemetry.Enabled = other.Telemetry.Enabled
		c.Telemetry.enabledSet = true
	}

	// Watcher
	if other.Watcher.Debounce != "" {
		c.Watcher.Debounce = other.Watcher.Debounce
	}
	if other.Watcher.enabledSet {
		c.Watcher.Enabled = other.Watcher.Enabled
		c.Watcher.enabledSet = true
	}

	// Namespaces
	if other.Namespaces.MaxLoaded != 0 {
		c.Namespaces.MaxLoaded = other.Namespaces.MaxLoaded
	}
}

// mergeScenario merges non-empty scenario fields from other into base.
func mergeScenario(base, other ScenarioConfig) ScenarioConfig {
	if other.SystemPrompt != "" {
		base.SystemPrompt = other.SystemPrompt
	}
	if len(other.GuidanceMarkers) > 0 {
		base.GuidanceMarkers = other.GuidanceMarkers
	}
	if len(other.AnalysisMarkers) > 0 {
		base.AnalysisMarkers = other.AnalysisMarkers
	}
	if len(other.ContinuationMarkers) > 0 {
		base.ContinuationMarkers = other.ContinuationMarkers
	}
	if len(other.NonTerminalSuffixes) > 0 {
		base.NonTerminalSuffixes = other.NonTerminalSuffixes
	}
	if len(other.KeywordLibrary) > 0 {
		base.KeywordLibrary = other.KeywordLibrary
	}
	if len(other.CitationPatterns) > 0 {
		base.CitationPatterns = other.CitationPatterns
	}
	return base
}

// applyEnvOverrides applies DOCRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Retrieval weights (support explicit zero values via env vars)
	if v := os.Getenv("DOCRAG_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.BM25Weight = w
		}
	}
	if v := os.Getenv("DOCRAG_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("DOCRAG_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFK = k
		}
	}
	if v := os.Getenv("DOCRAG_RETRIEVE_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RetrieveK = k
		}
	}
	if v := os.Getenv("DOCRAG_MIN_SIMILARITY"); v != "" {
		if s, err := parseFloat64(v); err == nil && s >= 0 && s <= 1 {
			c.Retrieval.MinSimilarity = s
		}
	}
	if v := os.Getenv("DOCRAG_USE_BM25"); v != "" {
		c.Retrieval.UseBM25 = parseBool(v)
	}
	if v := os.Getenv("DOCRAG_USE_VECTOR"); v != "" {
		c.Retrieval.UseVector = parseBool(v)
	}

	// LLM
	if v := os.Getenv("DOCRAG_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("DOCRAG_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("DOCRAG_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("DASHSCOPE_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDING_MODEL"); v != "" {
		c.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDING_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.LLM.EmbeddingDimensions = d
		}
	}

	// Paths
	if v := os.Getenv("DOCRAG_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}

	// Cache
	if v := os.Getenv("DOCRAG_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCRAG_SEMANTIC_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Cache.SemanticThreshold = t
		}
	}

	// Server
	if v := os.Getenv("DOCRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("DOCRAG_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}

	// Telemetry
	if v := os.Getenv("DOCRAG_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// parseBool parses common truthy spellings.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// DurationOrDefault parses a duration string, falling back to def when the
// string is empty or invalid.
func DurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory, a .docrag directory, or a .docrag.yaml file
// by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		// Check for .git directory
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		// Check for .docrag/ or .docrag.yaml
		if dirExists(filepath.Join(currentDir, ".docrag")) ||
			fileExists(filepath.Join(currentDir, ".docrag.yaml")) {
			return currentDir, nil
		}

		// Move up one directory
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Validate retrieval weights
	if c.Retrieval.BM25Weight < 0 || c.Retrieval.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Retrieval.BM25Weight)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.VectorWeight > 1 {
		return fmt.Errorf("vector_weight must be between 0 and 1, got %f", c.Retrieval.VectorWeight)
	}

	// Validate weight sum
	sum := c.Retrieval.BM25Weight + c.Retrieval.VectorWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + vector_weight must equal 1.0, got %.2f", sum)
	}

	if c.Retrieval.RetrieveK <= 0 {
		return fmt.Errorf("retrieve_k must be positive, got %d", c.Retrieval.RetrieveK)
	}
	if c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.Retrieval.RRFK)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be between 0 and 1, got %f", c.Retrieval.MinSimilarity)
	}

	// Validate backends
	if c.Retrieval.KeywordBackend != "" {
		validKeyword := map[string]bool{"native": true, "bleve": true}
		if !validKeyword[strings.ToLower(c.Retrieval.KeywordBackend)] {
			return fmt.Errorf("retrieval.keyword_backend must be 'native' or 'bleve', got %s", c.Retrieval.KeywordBackend)
		}
	}
	if c.Retrieval.VectorBackend != "" {
		validVector := map[string]bool{"flat": true, "hnsw": true}
		if !validVector[strings.ToLower(c.Retrieval.VectorBackend)] {
			return fmt.Errorf("retrieval.vector_backend must be 'flat' or 'hnsw', got %s", c.Retrieval.VectorBackend)
		}
	}

	// Validate navigator
	if c.Navigator.MaxRounds < 1 {
		return fmt.Errorf("navigator.max_rounds must be at least 1, got %d", c.Navigator.MaxRounds)
	}
	if c.Navigator.TargetTokens <= 0 {
		return fmt.Errorf("navigator.target_tokens must be positive, got %d", c.Navigator.TargetTokens)
	}

	// Validate cache
	if c.Cache.SemanticThreshold < 0 || c.Cache.SemanticThreshold > 1 {
		return fmt.Errorf("cache.semantic_threshold must be between 0 and 1, got %f", c.Cache.SemanticThreshold)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.ExactTTL != "" {
		if _, err := time.ParseDuration(c.Cache.ExactTTL); err != nil {
			return fmt.Errorf("cache.exact_ttl is not a valid duration: %s", c.Cache.ExactTTL)
		}
	}
	if c.Cache.SemanticTTL != "" {
		if _, err := time.ParseDuration(c.Cache.SemanticTTL); err != nil {
			return fmt.Errorf("cache.semantic_ttl is not a valid duration: %s", c.Cache.SemanticTTL)
		}
	}

	// Validate provider
	if c.LLM.Provider != "" {
		validProviders := map[string]bool{"openai": true, "static": true}
		if !validProviders[strings.ToLower(c.LLM.Provider)] {
			return fmt.Errorf("llm.provider must be 'openai' or 'static', got %s", c.LLM.Provider)
		}
	}

	// Validate transport
	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	// Retrieval - weights and RRF constant
	if c.Retrieval.BM25Weight == 0 {
		c.Retrieval.BM25Weight = defaults.Retrieval.BM25Weight
		added = append(added, "retrieval.bm25_weight")
	}
	if c.Retrieval.VectorWeight == 0 {
		c.Retrieval.VectorWeight = defaults.Retrieval.VectorWeight
		added = append(added, "retrieval.vector_weight")
	}
	if c.Retrieval.RRFK == 0 {
		c.Retrieval.RRFK = defaults.Retrieval.RRFK
		added = append(added, "retrieval.rrf_k")
	}
	if c.Retrieval.RetrieveK == 0 {
		c.Retrieval.RetrieveK = defaults.Retrieval.RetrieveK
		added = append(added, "retrieval.retrieve_k")
	}

	// Navigator
	if c.Navigator.MaxRounds == 0 {
		c.Navigator.MaxRounds = defaults.Navigator.MaxRounds
		added = append(added, "navigator.max_rounds")
	}
	if c.Navigator.TargetTokens == 0 {
		c.Navigator.TargetTokens = defaults.Navigator.TargetTokens
		added = append(added, "navigator.target_tokens")
	}

	// Cache
	if c.Cache.SemanticThreshold == 0 {
		c.Cache.SemanticThreshold = defaults.Cache.SemanticThreshold
		added = append(added, "cache.semantic_threshold")
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = defaults.Cache.MaxSize
		added = append(added, "cache.max_size")
	}
	if c.Cache.ExactTTL == "" {
		c.Cache.ExactTTL = defaults.Cache.ExactTTL
		added = append(added, "cache.exact_ttl")
	}
	if c.Cache.SemanticTTL == "" {
		c.Cache.SemanticTTL = defaults.Cache.SemanticTTL
		added = append(added, "cache.semantic_ttl")
	}

	// Namespaces
	if c.Namespaces.MaxLoaded == 0 {
		c.Namespaces.MaxLoaded = defaults.Namespaces.MaxLoaded
		added = append(added, "namespaces.max_loaded")
	}

	return added
}
