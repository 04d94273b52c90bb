// Package team owns one task run: it instantiates the agent team from a
// validated blueprint, wires the supervisor graph and the kernel
// modules, drives the tick loop, and handles pause, resume, cancel,
// completion, and agent replacement.
package team

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/hivemind/internal/roster"
)

// Blueprint size bounds
const (
	topRoles     = 3
	minMidRoles  = 2
	maxMidRoles  = 5
	minBottom    = 1
	maxBottom    = 50
	maxTeamSize  = 50
)

// TopRole describes one of the three strategic agents
type TopRole struct {
	Name               string                `yaml:"name" json:"name"`
	Role               string                `yaml:"role" json:"role"`
	Capabilities       []roster.Capability   `yaml:"capabilities" json:"capabilities"`
	Power              roster.PowerKind      `yaml:"power" json:"power"`
	VoteWeight         float64               `yaml:"vote_weight" json:"vote_weight"`
	SignatureAuthority []roster.DecisionKind `yaml:"signature_authority" json:"signature_authority"`
}

// MidRole describes one coordinator
type MidRole struct {
	Name            string              `yaml:"name" json:"name"`
	Role            string              `yaml:"role" json:"role"`
	Capabilities    []roster.Capability `yaml:"capabilities" json:"capabilities"`
	Domain          string              `yaml:"domain" json:"domain"`
	MaxSubordinates int                 `yaml:"max_subordinates" json:"max_subordinates"`
}

// BottomRole describes one executor
type BottomRole struct {
	Name         string              `yaml:"name" json:"name"`
	Role         string              `yaml:"role" json:"role"`
	Capabilities []roster.Capability `yaml:"capabilities" json:"capabilities"`
	Tools        []string            `yaml:"tools" json:"tools"`
}

// Blueprint is the validated team structure a structure provider hands
// to the kernel
type Blueprint struct {
	Top    []TopRole     `yaml:"top" json:"top"`
	Mid    []MidRole     `yaml:"mid" json:"mid"`
	Bottom []BottomRole  `yaml:"bottom" json:"bottom"`
	Agent  roster.Config `yaml:"agent" json:"agent"`
}

// LoadBlueprint reads and validates a blueprint YAML file
func LoadBlueprint(path string) (*Blueprint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint: %w", err)
	}
	var bp Blueprint
	if err := yaml.Unmarshal(raw, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint: %w", err)
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return &bp, nil
}

// Validate enforces the admission contract: exactly three top roles with
// arbitration and signature authority, two to five mids with unique
// domains and delegation, one to fifty bottoms with tools and execution.
func (bp *Blueprint) Validate() error {
	if len(bp.Top) != topRoles {
		return fmt.Errorf("blueprint requires exactly %d top roles, got %d", topRoles, len(bp.Top))
	}
	powers := make(map[roster.PowerKind]bool)
	for i, role := range bp.Top {
		if role.Name == "" {
			return fmt.Errorf("top role %d has no name", i)
		}
		if err := validCaps(role.Capabilities); err != nil {
			return fmt.Errorf("top role %s: %w", role.Name, err)
		}
		if !hasCap(role.Capabilities, roster.CapArbitrate) {
			return fmt.Errorf("top role %s lacks the arbitrate capability", role.Name)
		}
		if len(role.SignatureAuthority) == 0 {
			return fmt.Errorf("top role %s has no signature authority", role.Name)
		}
		for _, kind := range role.SignatureAuthority {
			if !kind.Valid() {
				return fmt.Errorf("top role %s: unknown decision type %q", role.Name, kind)
			}
		}
		if powers[role.Power] {
			return fmt.Errorf("duplicate power kind %s", role.Power)
		}
		powers[role.Power] = true
	}

	if len(bp.Mid) < minMidRoles || len(bp.Mid) > maxMidRoles {
		return fmt.Errorf("blueprint requires %d-%d mid roles, got %d", minMidRoles, maxMidRoles, len(bp.Mid))
	}
	domains := make(map[string]bool)
	for i, role := range bp.Mid {
		if role.Name == "" {
			return fmt.Errorf("mid role %d has no name", i)
		}
		if err := validCaps(role.Capabilities); err != nil {
			return fmt.Errorf("mid role %s: %w", role.Name, err)
		}
		if !hasCap(role.Capabilities, roster.CapDelegate) {
			return fmt.Errorf("mid role %s lacks the delegate capability", role.Name)
		}
		if role.Domain == "" {
			return fmt.Errorf("mid role %s has no domain", role.Name)
		}
		if domains[role.Domain] {
			return fmt.Errorf("duplicate mid domain %q", role.Domain)
		}
		domains[role.Domain] = true
	}

	if len(bp.Bottom) < minBottom || len(bp.Bottom) > maxBottom {
		return fmt.Errorf("blueprint requires %d-%d bottom roles, got %d", minBottom, maxBottom, len(bp.Bottom))
	}
	for i, role := range bp.Bottom {
		if role.Name == "" {
			return fmt.Errorf("bottom role %d has no name", i)
		}
		if err := validCaps(role.Capabilities); err != nil {
			return fmt.Errorf("bottom role %s: %w", role.Name, err)
		}
		if !hasCap(role.Capabilities, roster.CapExecute) {
			return fmt.Errorf("bottom role %s lacks the execute capability", role.Name)
		}
		if len(role.Tools) == 0 {
			return fmt.Errorf("bottom role %s has no tools", role.Name)
		}
	}

	if total := len(bp.Top) + len(bp.Mid) + len(bp.Bottom); total > maxTeamSize {
		return fmt.Errorf("team size %d exceeds maximum %d", total, maxTeamSize)
	}
	return nil
}

// midForBottom picks the supervising mid for a bottom role: the mid
// whose domain prefixes the bottom's name, else the first mid.
func (bp *Blueprint) midForBottom(role BottomRole) int {
	for i, mid := range bp.Mid {
		if strings.HasPrefix(role.Name, mid.Domain) {
			return i
		}
	}
	return 0
}

func hasCap(caps []roster.Capability, want roster.Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func validCaps(caps []roster.Capability) error {
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("unknown capability %q", c)
		}
	}
	return nil
}
