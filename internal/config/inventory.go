package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

// envPlaceholder matches ${VAR} placeholders in inventory strings.
var envPlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Inventory is the parsed fleet inventory: the components to probe and
// the connections to infer between them.
type Inventory struct {
	Components  []InventoryComponent  `json:"components"`
	Connections []InventoryConnection `json:"connections"`
}

// InventoryComponent describes one monitored endpoint.
type InventoryComponent struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	HealthURL   string `json:"health_url"`
	DisplayName string `json:"display_name"`
	Enabled     *bool  `json:"enabled"`
}

// InventoryConnection describes one inter-component link to infer.
type InventoryConnection struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
}

// LoadInventory reads and parses the fleet inventory JSON file. String
// values may contain ${VAR} placeholders, replaced from the environment;
// placeholders naming unset variables are reported as warnings and
// replaced with the empty string.
func LoadInventory(path string) (*Inventory, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading inventory file: %w", err)
	}

	var warnings []string
	resolved := envPlaceholder.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPlaceholder.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("environment variable %s is not set", name))
			return nil
		}
		return []byte(value)
	})

	var inv Inventory
	if err := json.Unmarshal(resolved, &inv); err != nil {
		return nil, warnings, fmt.Errorf("parsing inventory file: %w", err)
	}

	if err := inv.validate(); err != nil {
		return nil, warnings, err
	}
	return &inv, warnings, nil
}

func (inv *Inventory) validate() error {
	if len(inv.Components) == 0 {
		return fmt.Errorf("inventory has no components")
	}

	keys := make(map[string]bool, len(inv.Components))
	for i, c := range inv.Components {
		if c.Key == "" {
			return fmt.Errorf("component %d has no key", i)
		}
		if keys[c.Key] {
			return fmt.Errorf("duplicate component key %q", c.Key)
		}
		keys[c.Key] = true
		if c.HealthURL == "" && (c.Enabled == nil || *c.Enabled) {
			return fmt.Errorf("component %q is enabled but has no health_url", c.Key)
		}
	}

	for i, conn := range inv.Connections {
		if conn.Source == "" || conn.Target == "" {
			return fmt.Errorf("connection %d is missing source or target", i)
		}
		if !keys[conn.Source] {
			return fmt.Errorf("connection %d references unknown source %q", i, conn.Source)
		}
		if !keys[conn.Target] {
			return fmt.Errorf("connection %d references unknown target %q", i, conn.Target)
		}
	}
	return nil
}

// HealthComponents converts the inventory into prober inputs.
func (inv *Inventory) HealthComponents() []health.Component {
	components := make([]health.Component, 0, len(inv.Components))
	for _, c := range inv.Components {
		name := c.Name
		if name == "" {
			name = c.Key
		}
		enabled := c.Enabled == nil || *c.Enabled
		components = append(components, health.Component{
			Key:       c.Key,
			Name:      name,
			HealthURL: c.HealthURL,
			Enabled:   enabled,
		})
	}
	return components
}

// ConnectionChecks converts the inventory into connection-inference
// inputs.
func (inv *Inventory) ConnectionChecks() []health.ConnectionCheck {
	checks := make([]health.ConnectionCheck, 0, len(inv.Connections))
	for _, conn := range inv.Connections {
		checks = append(checks, health.ConnectionCheck{
			Source:   conn.Source,
			Target:   conn.Target,
			Name:     conn.Name,
			Critical: conn.Critical,
		})
	}
	return checks
}

// DisplayNames maps component keys to their configured display names,
// for alert rendering. Components without an explicit display name are
// omitted.
func (inv *Inventory) DisplayNames() map[string]string {
	names := make(map[string]string)
	for _, c := range inv.Components {
		if c.DisplayName != "" {
			names[c.Key] = c.DisplayName
		}
	}
	return names
}
