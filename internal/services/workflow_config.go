package services

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowConfigFile is the well-known config file fetched from a connected
// repository's default branch during connection setup.
const WorkflowConfigFile = ".trackflow.yml"

// WorkflowConfig is the light shape parsed out of the repository config.
// Full workflow rule validation happens elsewhere; connection setup only
// needs the state list.
type WorkflowConfig struct {
	Version int `yaml:"version"`
	States  []struct {
		Name string `yaml:"name"`
	} `yaml:"states"`
}

// ParseWorkflowConfig parses repository workflow YAML and returns the raw
// document plus the declared state names.
func ParseWorkflowConfig(data []byte) (*WorkflowConfig, []string, error) {
	var cfg WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", WorkflowConfigFile, err)
	}

	var states []string
	for _, st := range cfg.States {
		name := strings.TrimSpace(st.Name)
		if name != "" {
			states = append(states, name)
		}
	}
	if len(states) == 0 {
		return nil, nil, fmt.Errorf("%s declares no workflow states", WorkflowConfigFile)
	}
	return &cfg, states, nil
}
