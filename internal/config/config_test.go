package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default Configuration Tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)

	// Retrieval defaults
	assert.Equal(t, 5, cfg.Retrieval.RetrieveK)
	assert.True(t, cfg.Retrieval.UseBM25)
	assert.True(t, cfg.Retrieval.UseVector)
	assert.Equal(t, 60, cfg.Retrieval.RRFK) // Industry standard k=60
	assert.Equal(t, 0.5, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 0.5, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.5, cfg.Retrieval.MinSimilarity)
	assert.Equal(t, "native", cfg.Retrieval.KeywordBackend)
	assert.Equal(t, "flat", cfg.Retrieval.VectorBackend)

	// LLM defaults (DashScope-compatible endpoint, three model tiers)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Contains(t, cfg.LLM.BaseURL, "dashscope")
	assert.Equal(t, "qwen-turbo", cfg.LLM.FastModel)
	assert.Equal(t, "qwen-plus", cfg.LLM.MidModel)
	assert.Equal(t, "qwen-max", cfg.LLM.QualityModel)
	assert.Equal(t, "text-embedding-v3", cfg.LLM.EmbeddingModel)
	assert.Equal(t, 0, cfg.LLM.EmbeddingDimensions) // Probe the provider
	assert.Equal(t, "60s", cfg.LLM.ChatTimeout)
	assert.Equal(t, "30s", cfg.LLM.EmbedTimeout)
	assert.Equal(t, "90s", cfg.LLM.RequestTimeout)
	assert.Equal(t, 512, cfg.LLM.EmbedCacheSize)

	// Navigator defaults
	assert.Equal(t, 3, cfg.Navigator.MaxRounds)
	assert.Equal(t, 2000, cfg.Navigator.TargetTokens)

	// Cache defaults
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 0.95, cfg.Cache.SemanticThreshold)
	assert.Equal(t, "168h", cfg.Cache.ExactTTL)
	assert.Equal(t, "72h", cfg.Cache.SemanticTTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.False(t, cfg.Cache.Persist)

	// Ingest defaults
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 10, cfg.Ingest.EmbedBatch)
	assert.Equal(t, runtime.NumCPU(), cfg.Ingest.Workers)

	// Server defaults
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	// Namespace registry defaults
	assert.Equal(t, 8, cfg.Namespaces.MaxLoaded)

	// Watcher defaults (opt-in)
	assert.False(t, cfg.Watcher.Enabled)
	assert.Equal(t, "500ms", cfg.Watcher.Debounce)

	// Telemetry on by default, local sqlite
	assert.True(t, cfg.Telemetry.Enabled)
	assert.NotEmpty(t, cfg.Telemetry.DBPath)
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

func TestConfig_RetrievalWeightsSumToOne(t *testing.T) {
	cfg := NewConfig()
	sum := cfg.Retrieval.BM25Weight + cfg.Retrieval.VectorWeight
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestNewConfig_ScenarioDefaults(t *testing.T) {
	cfg := NewConfig()

	// Intent fallback markers
	assert.Contains(t, cfg.Scenario.GuidanceMarkers, "如何")
	assert.Contains(t, cfg.Scenario.GuidanceMarkers, "建议")
	assert.Contains(t, cfg.Scenario.AnalysisMarkers, "分析")
	assert.Contains(t, cfg.Scenario.AnalysisMarkers, "判断")

	// Chunk expansion heuristics
	assert.Contains(t, cfg.Scenario.ContinuationMarkers, "（续")
	assert.Contains(t, cfg.Scenario.NonTerminalSuffixes, "：")

	// Citation grammar is ordered: page pattern first
	require.NotEmpty(t, cfg.Scenario.CitationPatterns)
	assert.Equal(t, `第\s*(\d+)\s*页`, cfg.Scenario.CitationPatterns[0])

	// Empty but non-nil so YAML merges cleanly
	assert.NotNil(t, cfg.Scenario.KeywordLibrary)
	assert.Empty(t, cfg.Scenario.KeywordLibrary)

	assert.NotEmpty(t, cfg.Scenario.SystemPrompt)
}

// =============================================================================
// Configuration File Loading Tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a directory with no .docrag/config.yaml and no user config
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: defaults are returned without error
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 0.5, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 5, cfg.Retrieval.RetrieveK)
}

func TestLoad_ProjectFile_OverridesDefaults(t *testing.T) {
	// Given: a data root with .docrag/config.yaml
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
retrieval:
  retrieve_k: 8
  rrf_k: 100
  bm25_weight: 0.4
  vector_weight: 0.6
navigator:
  max_rounds: 5
`
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".docrag"), 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag", "config.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: all overrides are applied
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Retrieval.RetrieveK)
	assert.Equal(t, 100, cfg.Retrieval.RRFK)
	assert.Equal(t, 0.4, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 0.6, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 5, cfg.Navigator.MaxRounds)
	// And: untouched keys keep their defaults
	assert.True(t, cfg.Retrieval.UseBM25)
	assert.True(t, cfg.Retrieval.UseVector)
	assert.Equal(t, 2000, cfg.Navigator.TargetTokens)
}

func TestLoad_FlatFileFallback_IsRecognized(t *testing.T) {
	// Given: a data root with a flat .docrag.yaml (no .docrag/ directory)
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
llm:
  provider: static
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: the flat file is recognized
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.LLM.Provider)
}

func TestLoad_DirConfigPreferredOverFlatFile(t *testing.T) {
	// Given: both .docrag/config.yaml and .docrag.yaml exist
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dirContent := `
version: 1
llm:
  provider: static
`
	flatContent := `
version: 1
llm:
  provider: openai
`
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".docrag"), 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag", "config.yaml"), []byte(dirContent), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(flatContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: .docrag/config.yaml takes precedence
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.LLM.Provider)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	// Given: invalid YAML syntax
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	invalidContent := `
version: 1
retrieval:
  bm25_weight: [invalid yaml syntax
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: error is returned with clear message
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	// Given: wrong type for a YAML-accessible field
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	invalidContent := `
version: 1
retrieval:
  retrieve_k: "not-a-number"
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: error is returned
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ExplicitFalse_DisablesRetrievalLeg(t *testing.T) {
	// Given: a project config that turns one leg off and nothing else
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
retrieval:
  use_vector: false
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: the explicit false survives the merge, the other leg keeps its default
	require.NoError(t, err)
	assert.False(t, cfg.Retrieval.UseVector)
	assert.True(t, cfg.Retrieval.UseBM25)
}

// =============================================================================
// Project Root Discovery Tests
// =============================================================================

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	// Given: a nested directory in a git repo
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "documents", "tenant-a")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	// When: finding project root from nested directory
	root, err := FindProjectRoot(nestedDir)

	// Then: git root is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigDir_ReturnsConfigLocation(t *testing.T) {
	// Given: a directory with .docrag/ (no git)
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "documents", "tenant-a")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, ".docrag"), 0o755))

	// When: finding project root from nested directory
	root, err := FindProjectRoot(nestedDir)

	// Then: config directory location is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_FlatConfigFile_ReturnsConfigLocation(t *testing.T) {
	// Given: a directory with .docrag.yaml (no git)
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "documents", "tenant-a")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte("version: 1"), 0o644)
	require.NoError(t, err)

	// When: finding project root from nested directory
	root, err := FindProjectRoot(nestedDir)

	// Then: config file location is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	// Given: a directory with no markers
	tmpDir := t.TempDir()

	// When: finding project root
	root, err := FindProjectRoot(tmpDir)

	// Then: current directory is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// Environment Variable Override Tests
// =============================================================================

func TestLoad_EnvVarOverridesProvider(t *testing.T) {
	// Given: a config file with openai and env var with static
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
llm:
  provider: openai
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("DOCRAG_LLM_PROVIDER", "static")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var takes precedence
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.LLM.Provider)
}

func TestLoad_EnvVarOverridesEmbeddingModel(t *testing.T) {
	// Given: env var for embedding model
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_EMBEDDING_MODEL", "text-embedding-v4")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var is applied
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-v4", cfg.LLM.EmbeddingModel)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	// Given: env var for log level
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_LOG_LEVEL", "debug")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var is applied
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesTransport(t *testing.T) {
	// Given: env var for transport
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_TRANSPORT", "sse")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var is applied
	require.NoError(t, err)
	assert.Equal(t, "sse", cfg.Server.Transport)
}

func TestLoad_EnvVarOverridesRRFK(t *testing.T) {
	// Given: YAML config with RRF constant and env var override
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
retrieval:
  rrf_k: 100
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("DOCRAG_RRF_K", "80")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var takes precedence over YAML
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Retrieval.RRFK)
}

func TestLoad_EnvVarOverridesWeights(t *testing.T) {
	// Given: YAML config with weights and env var override
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
retrieval:
  bm25_weight: 0.4
  vector_weight: 0.6
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("DOCRAG_BM25_WEIGHT", "0.7")
	t.Setenv("DOCRAG_VECTOR_WEIGHT", "0.3")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env vars take precedence over YAML
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 0.3, cfg.Retrieval.VectorWeight)
}

func TestLoad_EnvVarDisablesRetrievalLeg(t *testing.T) {
	// Given: env vars turning the legs off
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_USE_VECTOR", "false")
	t.Setenv("DOCRAG_USE_BM25", "true")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env vars are applied
	require.NoError(t, err)
	assert.False(t, cfg.Retrieval.UseVector)
	assert.True(t, cfg.Retrieval.UseBM25)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	// Given: empty env var
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_LLM_PROVIDER", "")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: default is kept
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoad_ApiKeyFallsBackToDashScopeEnv(t *testing.T) {
	// Given: only the DashScope env var is set
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_API_KEY", "")
	t.Setenv("DASHSCOPE_API_KEY", "sk-dash")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: the DashScope key is picked up
	require.NoError(t, err)
	assert.Equal(t, "sk-dash", cfg.LLM.APIKey)
}

func TestLoad_ApiKeyPrefersDocragEnv(t *testing.T) {
	// Given: both env vars are set
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCRAG_API_KEY", "sk-docrag")
	t.Setenv("DASHSCOPE_API_KEY", "sk-dash")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: DOCRAG_API_KEY wins
	require.NoError(t, err)
	assert.Equal(t, "sk-docrag", cfg.LLM.APIKey)
}

// =============================================================================
// User/Global Configuration Tests
// =============================================================================

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	// Given: no XDG_CONFIG_HOME set
	t.Setenv("XDG_CONFIG_HOME", "")

	// When: getting user config path
	path := GetUserConfigPath()

	// Then: defaults to ~/.config/docrag/config.yaml
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "docrag", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	// Given: XDG_CONFIG_HOME is set
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	// When: getting user config path
	path := GetUserConfigPath()

	// Then: uses XDG_CONFIG_HOME
	expected := filepath.Join(customConfig, "docrag", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	// When: getting user config directory
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	// Then: directory is parent of config file
	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	// Given: XDG_CONFIG_HOME points to empty directory
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	// When: checking if user config exists
	exists := UserConfigExists()

	// Then: returns false
	assert.False(t, exists)
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	// Given: user config file exists
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	docragDir := filepath.Join(configDir, "docrag")
	require.NoError(t, os.MkdirAll(docragDir, 0o755))
	configPath := filepath.Join(docragDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o644))

	// When: checking if user config exists
	exists := UserConfigExists()

	// Then: returns true
	assert.True(t, exists)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	// Given: user config with a custom endpoint
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	docragDir := filepath.Join(configDir, "docrag")
	require.NoError(t, os.MkdirAll(docragDir, 0o755))
	userConfig := `
version: 1
llm:
  base_url: http://localhost:8000/v1
`
	require.NoError(t, os.WriteFile(filepath.Join(docragDir, "config.yaml"), []byte(userConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: user config values are applied
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/v1", cfg.LLM.BaseURL)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	// Given: both user and project configs exist
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	// User config
	docragDir := filepath.Join(configDir, "docrag")
	require.NoError(t, os.MkdirAll(docragDir, 0o755))
	userConfig := `
version: 1
llm:
  provider: static
  mid_model: user-model
`
	require.NoError(t, os.WriteFile(filepath.Join(docragDir, "config.yaml"), []byte(userConfig), 0o644))

	// Project config (overrides user)
	projectConfig := `
version: 1
llm:
  mid_model: project-model
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".docrag.yaml"), []byte(projectConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: project config takes precedence
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.LLM.MidModel)
	// And: user config's provider is still used (not overridden by project)
	assert.Equal(t, "static", cfg.LLM.Provider)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	// Given: all three config sources exist
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("DOCRAG_EMBEDDING_MODEL", "env-model")

	// User config
	docragDir := filepath.Join(configDir, "docrag")
	require.NoError(t, os.MkdirAll(docragDir, 0o755))
	userConfig := `
version: 1
llm:
  embedding_model: user-model
`
	require.NoError(t, os.WriteFile(filepath.Join(docragDir, "config.yaml"), []byte(userConfig), 0o644))

	// Project config
	projectConfig := `
version: 1
llm:
  embedding_model: project-model
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".docrag.yaml"), []byte(projectConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: env var has highest precedence
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LLM.EmbeddingModel)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	// Given: invalid user config
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	docragDir := filepath.Join(configDir, "docrag")
	require.NoError(t, os.MkdirAll(docragDir, 0o755))
	invalidConfig := `
version: 1
llm:
  mid_model: [invalid yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(docragDir, "config.yaml"), []byte(invalidConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: error is returned
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}

// =============================================================================
// Scenario Configuration Tests
// =============================================================================

func TestScenarioFor_UnknownID_ReturnsDefaults(t *testing.T) {
	// Given: no per-scenario overrides
	cfg := NewConfig()

	// When: resolving an unknown scenario
	sc := cfg.ScenarioFor("nonexistent")

	// Then: the default block is returned
	assert.Equal(t, cfg.Scenario.SystemPrompt, sc.SystemPrompt)
	assert.Equal(t, cfg.Scenario.GuidanceMarkers, sc.GuidanceMarkers)
	assert.Equal(t, cfg.Scenario.CitationPatterns, sc.CitationPatterns)
}

func TestScenarioFor_OverrideAppliesOnTopOfDefaults(t *testing.T) {
	// Given: a scenario override with a prompt and keyword library only
	cfg := NewConfig()
	cfg.Scenarios = map[string]ScenarioConfig{
		"insurance": {
			SystemPrompt: "你是保险条款问答助手。",
			KeywordLibrary: map[string][]string{
				"理赔": {"保单", "免赔额", "报案"},
			},
		},
	}

	// When: resolving the scenario
	sc := cfg.ScenarioFor("insurance")

	// Then: overridden fields apply, the rest inherit the defaults
	assert.Equal(t, "你是保险条款问答助手。", sc.SystemPrompt)
	assert.Equal(t, []string{"保单", "免赔额", "报案"}, sc.KeywordLibrary["理赔"])
	assert.Equal(t, cfg.Scenario.GuidanceMarkers, sc.GuidanceMarkers)
	assert.Equal(t, cfg.Scenario.CitationPatterns, sc.CitationPatterns)
}

func TestLoad_ScenarioBlocks_FromYAML(t *testing.T) {
	// Given: a project config with a default library and one scenario override
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configContent := `
version: 1
scenario:
  keyword_library:
    报销: ["发票", "审批"]
scenarios:
  insurance:
    system_prompt: "保险场景助手"
`
	err := os.WriteFile(filepath.Join(tmpDir, ".docrag.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	// Then: the override applies per scenario, the library is inherited
	sc := cfg.ScenarioFor("insurance")
	assert.Equal(t, "保险场景助手", sc.SystemPrompt)
	assert.Equal(t, []string{"发票", "审批"}, sc.KeywordLibrary["报销"])

	// And: other scenarios keep the default prompt
	other := cfg.ScenarioFor("hr-policy")
	assert.NotEqual(t, "保险场景助手", other.SystemPrompt)
	assert.Equal(t, []string{"发票", "审批"}, other.KeywordLibrary["报销"])
}
