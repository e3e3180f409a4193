package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"grantline/internal/events"
)

// Config models grantline.yml: the project identity, the role catalog with
// its capability grants, and the default event policies seeded on project
// creation.
type Config struct {
	Project struct {
		ID    string `yaml:"id"`
		Title string `yaml:"title"`
		Org   string `yaml:"org"`
	} `yaml:"project"`
	Roles struct {
		Catalog map[string]RoleSpec `yaml:"catalog"`
	} `yaml:"roles"`
	Policies struct {
		Defaults []PolicySpec `yaml:"defaults"`
	} `yaml:"policies"`
}

type RoleSpec struct {
	Name         string   `yaml:"name"`
	Capabilities []string `yaml:"capabilities"`
}

type PolicySpec struct {
	Name       string        `yaml:"name"`
	EventTypes []string      `yaml:"event_types"`
	Action     string        `yaml:"action"`
	Recipients RecipientSpec `yaml:"recipients"`
	Enabled    *bool         `yaml:"enabled"`
}

type RecipientSpec struct {
	Users        []string `yaml:"users"`
	ProjectRoles []string `yaml:"project_roles"`
	OrgRoles     []string `yaml:"org_roles"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	for roleID, role := range c.Roles.Catalog {
		if roleID == "" {
			return fmt.Errorf("config.roles.catalog contains empty role id")
		}
		for _, cap := range role.Capabilities {
			if cap == "" {
				return fmt.Errorf("role %s has empty capability", roleID)
			}
			if events.Type(cap) != "event.resolve" && !events.Known(events.Type(cap)) {
				return fmt.Errorf("role %s grants unknown event type %s", roleID, cap)
			}
		}
	}
	for i, p := range c.Policies.Defaults {
		if p.Name == "" {
			return fmt.Errorf("policy default %d has empty name", i)
		}
		if len(p.EventTypes) == 0 {
			return fmt.Errorf("policy %s lists no event types", p.Name)
		}
		if p.Action != "notify" && p.Action != "approve" {
			return fmt.Errorf("policy %s action must be notify or approve", p.Name)
		}
		for _, roleID := range p.Recipients.ProjectRoles {
			if len(c.Roles.Catalog) > 0 {
				if _, ok := c.Roles.Catalog[roleID]; !ok {
					return fmt.Errorf("policy %s references unknown role %s", p.Name, roleID)
				}
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "grantline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  title: ""
  org: default-org

roles:
  catalog:
    principal_investigator:
      name: Principal Investigator
      capabilities:
        - title.changed
        - description.changed
        - start_date.changed
        - end_date.changed
        - owning_org.changed
        - custom_field.set
        - product.added
        - product.removed
        - role.assigned
        - role.unassigned
        - policy.added
        - policy.removed
        - policy.updated
        - raid.linked
        - raid.updated
        - event.resolve

    coordinator:
      name: Project Coordinator
      capabilities:
        - title.changed
        - description.changed
        - custom_field.set
        - product.added
        - product.removed

    researcher:
      name: Researcher
      capabilities:
        - custom_field.set
        - product.added

policies:
  defaults:
    - name: Membership approval
      event_types: [role.assigned, role.unassigned]
      action: approve
      recipients:
        project_roles: [principal_investigator]

    - name: Schedule notification
      event_types: [start_date.changed, end_date.changed]
      action: notify
      recipients:
        project_roles: [principal_investigator, coordinator]
`
