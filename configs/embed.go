// Package configs provides embedded configuration templates for docrag.
//
// How Configuration Templates Work:
//
// Templates are embedded at build time using Go's //go:embed directive.
// This ensures they are available in ALL distributions:
//   - Source builds (go install)
//   - Binary releases
//   - Homebrew installations
//
// The templates are used by:
//   - internal/config/config.go Load() - default.yaml is the annotated baseline
//   - cmd/docrag/cmd/init.go - creates .docrag/config.yaml in a data root
//   - cmd/docrag/cmd/config.go - creates user config at ~/.config/docrag/config.yaml
//
// Template files:
//   - default.yaml: Every key with its default value, kept in sync with NewConfig()
//   - project-config.example.yaml: Per-deployment settings (paths, retrieval, scenarios)
//   - user-config.example.yaml: Machine-specific settings (endpoint, models, daemon)
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//   1. Hardcoded defaults + embedded default.yaml
//   2. User config (~/.config/docrag/config.yaml)
//   3. Project config (.docrag/config.yaml)
//   4. Environment variables (DOCRAG_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
// Changes will be embedded in the next build.
package configs

import _ "embed"

// DefaultConfigTemplate is the annotated baseline configuration.
// Loaded first by config.Load(); every other layer overrides it.
//
//go:embed default.yaml
var DefaultConfigTemplate string

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `docrag config init` at ~/.config/docrag/config.yaml
// Contains: Machine-specific settings like the model endpoint and daemon paths.
// Use case: Settings that apply to all deployments on this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for deployment-level configuration.
// Created by: `docrag init` at .docrag/config.yaml in the data root
// Contains: Deployment-specific settings like retrieval weights and scenario blocks.
// Use case: Settings that travel with one document collection.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
