package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is an environment-specific configuration profile,
// typically checked into the deployment repository per environment.
type DeploymentProfile struct {
	Name  string `yaml:"name" json:"name"`
	Roles struct {
		Owner   string `yaml:"owner" json:"owner"`
		Manager string `yaml:"manager,omitempty" json:"manager,omitempty"`
		Custody string `yaml:"custody" json:"custody"`
	} `yaml:"roles" json:"roles"`
	Limits struct {
		RPM   int `yaml:"rpm,omitempty" json:"rpm,omitempty"`
		Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
	} `yaml:"limits" json:"limits"`
}

// LoadProfile loads a deployment profile YAML by environment name. It looks
// for profile_<name>.yaml in the profiles directory.
func LoadProfile(profilesDir, name string) (*DeploymentProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Roles.Owner == "" {
		return nil, fmt.Errorf("profile %q: roles.owner is required", name)
	}
	if profile.Roles.Custody == "" {
		return nil, fmt.Errorf("profile %q: roles.custody is required", name)
	}
	return &profile, nil
}

// Apply overrides the config's role identities and limits with the profile's.
func (p *DeploymentProfile) Apply(cfg *Config) {
	cfg.OwnerIdentity = p.Roles.Owner
	cfg.ManagerIdentity = p.Roles.Manager
	cfg.CustodyIdentity = p.Roles.Custody
	if p.Limits.RPM > 0 {
		cfg.RateLimitRPM = p.Limits.RPM
	}
	if p.Limits.Burst > 0 {
		cfg.RateLimitBurst = p.Limits.Burst
	}
}
