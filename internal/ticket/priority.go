package ticket

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPriority is assigned when the severity label is unknown or absent,
// so ticket creation never blocks on an unmapped severity.
const DefaultPriority = "3 Medium"

// PriorityMap maps source severity labels to gateway priority ranks
type PriorityMap struct {
	table    map[string]string
	fallback string
}

// priorityMapFile is the YAML document shape for priority overrides
type priorityMapFile struct {
	Default    string            `yaml:"default"`
	Severities map[string]string `yaml:"severities"`
}

// DefaultPriorityMap returns the built-in severity→priority table
func DefaultPriorityMap() *PriorityMap {
	return &PriorityMap{
		table: map[string]string{
			"disaster":       "1 Critical",
			"high":           "2 High",
			"average":        "3 Medium",
			"warning":        "4 Low",
			"information":    "5 Very Low",
			"not classified": "3 Medium",
		},
		fallback: DefaultPriority,
	}
}

// LoadPriorityMap overlays severity mappings from a YAML file onto the
// built-in table. An empty path returns the defaults unchanged.
func LoadPriorityMap(path string) (*PriorityMap, error) {
	m := DefaultPriorityMap()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read priority map %s: %w", path, err)
	}

	var doc priorityMapFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse priority map %s: %w", path, err)
	}

	if doc.Default != "" {
		m.fallback = doc.Default
	}
	for severity, priority := range doc.Severities {
		m.table[strings.ToLower(severity)] = priority
	}
	return m, nil
}

// Lookup returns the priority rank for a severity label. Unknown or missing
// severities map to the middle rank rather than failing.
func (m *PriorityMap) Lookup(severity string) string {
	if priority, ok := m.table[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return priority
	}
	return m.fallback
}
