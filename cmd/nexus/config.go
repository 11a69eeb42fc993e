package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "View or modify configuration",
	Long: `View or modify Nexus configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/nexus/config.yaml.
Project-specific overrides can be placed in .nexus.yaml.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cmd, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

func displayAllConfig(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	apiKeyDisplay := "(not set)"
	if cfg.LLM.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Fprintf(out, "llm.backend: %s\n", cfg.LLM.Backend)
	fmt.Fprintf(out, "llm.api_key: %s\n", apiKeyDisplay)
	fmt.Fprintf(out, "llm.model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(out, "defaults.agent_type: %s\n", cfg.Defaults.AgentType)
	fmt.Fprintf(out, "defaults.token_budget: %d\n", cfg.Defaults.TokenBudget)
	fmt.Fprintf(out, "timeouts.scout: %s\n", cfg.Timeouts.Scout)
	fmt.Fprintf(out, "timeouts.builder: %s\n", cfg.Timeouts.Builder)
	fmt.Fprintf(out, "timeouts.architect: %s\n", cfg.Timeouts.Architect)
	fmt.Fprintf(out, "pool.scout: %d\n", cfg.Pool.Scout)
	fmt.Fprintf(out, "pool.builder: %d\n", cfg.Pool.Builder)
	fmt.Fprintf(out, "pool.architect: %d\n", cfg.Pool.Architect)
	fmt.Fprintf(out, "iteration.max_iterations: %d\n", cfg.Iteration.MaxIterations)
	fmt.Fprintf(out, "iteration.escalate_after: %d\n", cfg.Iteration.EscalateAfter)
	fmt.Fprintf(out, "iteration.commit_each_iteration: %t\n", cfg.Iteration.CommitEachIteration)
	fmt.Fprintf(out, "iteration.timeout_minutes: %d\n", cfg.Iteration.TimeoutMinutes)
	fmt.Fprintf(out, "quality_gates.build: %t\n", cfg.QualityGates.Build)
	fmt.Fprintf(out, "quality_gates.lint: %t\n", cfg.QualityGates.Lint)
	fmt.Fprintf(out, "quality_gates.test: %t\n", cfg.QualityGates.Test)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "llm.backend":
		return cfg.LLM.Backend, nil
	case "llm.api_key":
		if cfg.LLM.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "llm.model":
		return cfg.LLM.Model, nil
	case "defaults.agent_type":
		return cfg.Defaults.AgentType, nil
	case "defaults.token_budget":
		return strconv.Itoa(cfg.Defaults.TokenBudget), nil
	case "timeouts.scout":
		return cfg.Timeouts.Scout.String(), nil
	case "timeouts.builder":
		return cfg.Timeouts.Builder.String(), nil
	case "timeouts.architect":
		return cfg.Timeouts.Architect.String(), nil
	case "pool.scout":
		return strconv.Itoa(cfg.Pool.Scout), nil
	case "pool.builder":
		return strconv.Itoa(cfg.Pool.Builder), nil
	case "pool.architect":
		return strconv.Itoa(cfg.Pool.Architect), nil
	case "iteration.max_iterations":
		return strconv.Itoa(cfg.Iteration.MaxIterations), nil
	case "iteration.escalate_after":
		return strconv.Itoa(cfg.Iteration.EscalateAfter), nil
	case "iteration.commit_each_iteration":
		return strconv.FormatBool(cfg.Iteration.CommitEachIteration), nil
	case "iteration.timeout_minutes":
		return strconv.Itoa(cfg.Iteration.TimeoutMinutes), nil
	case "quality_gates.build":
		return strconv.FormatBool(cfg.QualityGates.Build), nil
	case "quality_gates.lint":
		return strconv.FormatBool(cfg.QualityGates.Lint), nil
	case "quality_gates.test":
		return strconv.FormatBool(cfg.QualityGates.Test), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "llm.backend":
		if value != "cli" && value != "api" {
			return fmt.Errorf("llm.backend must be \"cli\" or \"api\", got %q", value)
		}
		cfg.LLM.Backend = value
	case "llm.api_key":
		cfg.LLM.APIKey = value
	case "llm.model":
		cfg.LLM.Model = value
	case "defaults.agent_type":
		cfg.Defaults.AgentType = value
	case "defaults.token_budget":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for defaults.token_budget: %w", err)
		}
		cfg.Defaults.TokenBudget = n
	case "timeouts.scout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.scout: %w", err)
		}
		cfg.Timeouts.Scout = d
	case "timeouts.builder":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.builder: %w", err)
		}
		cfg.Timeouts.Builder = d
	case "timeouts.architect":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.architect: %w", err)
		}
		cfg.Timeouts.Architect = d
	case "pool.scout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for pool.scout: %w", err)
		}
		cfg.Pool.Scout = n
	case "pool.builder":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for pool.builder: %w", err)
		}
		cfg.Pool.Builder = n
	case "pool.architect":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for pool.architect: %w", err)
		}
		cfg.Pool.Architect = n
	case "iteration.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for iteration.max_iterations: %w", err)
		}
		cfg.Iteration.MaxIterations = n
	case "iteration.escalate_after":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for iteration.escalate_after: %w", err)
		}
		cfg.Iteration.EscalateAfter = n
	case "iteration.commit_each_iteration":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for iteration.commit_each_iteration: %w", err)
		}
		cfg.Iteration.CommitEachIteration = b
	case "iteration.timeout_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for iteration.timeout_minutes: %w", err)
		}
		cfg.Iteration.TimeoutMinutes = n
	case "quality_gates.build":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for quality_gates.build: %w", err)
		}
		cfg.QualityGates.Build = b
	case "quality_gates.lint":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for quality_gates.lint: %w", err)
		}
		cfg.QualityGates.Lint = b
	case "quality_gates.test":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for quality_gates.test: %w", err)
		}
		cfg.QualityGates.Test = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
