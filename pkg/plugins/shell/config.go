package shell

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// commandEntry is one named command in a commands file.
type commandEntry struct {
	Name        string   `yaml:"name" json:"name"`
	Command     string   `yaml:"command" json:"command"`
	Args        []string `yaml:"args" json:"args"`
	Description string   `yaml:"description" json:"description"`
}

type configFile struct {
	Commands []commandEntry `yaml:"commands" json:"commands"`
}

// LoadCommands reads a commands file (YAML or JSON) into an allow-list
// usable with WithCommands. A missing file means no commands configured,
// not an error.
func LoadCommands(path string) (map[string]Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Command{}, nil
		}
		return nil, fmt.Errorf("failed to read commands config: %w", err)
	}

	var cfg configFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse commands config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse commands config: %w", err)
		}
	}

	commands := make(map[string]Command)
	for _, entry := range cfg.Commands {
		if entry.Name == "" {
			continue
		}
		commands[entry.Name] = Command{Command: entry.Command, Args: entry.Args}
	}
	return commands, nil
}
