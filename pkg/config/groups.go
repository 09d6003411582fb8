package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// LoadGroups reads one group definition per *.yml or *.yaml file in dir.
// Files whose name starts with "_" are skipped. Groups without a cooldown
// get defaultCooldown. The result is sorted by group name.
func LoadGroups(dir string, defaultCooldown time.Duration) ([]*models.GroupConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups directory: %w", err)
	}

	var groups []*models.GroupConfig
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		group, err := LoadGroupFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if group.Scaling.CooldownSeconds == 0 {
			group.Scaling.CooldownSeconds = int(defaultCooldown / time.Second)
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Name < groups[j].Name
	})
	return groups, nil
}

func LoadGroupFile(path string) (*models.GroupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read group file %s: %w", path, err)
	}

	group, err := ParseGroup(data)
	if err != nil {
		return nil, fmt.Errorf("group file %s: %w", filepath.Base(path), err)
	}
	return group, nil
}

// ParseGroup decodes one group definition, rejecting unknown keys.
func ParseGroup(data []byte) (*models.GroupConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var group models.GroupConfig
	if err := dec.Decode(&group); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty group definition")
		}
		return nil, fmt.Errorf("failed to parse group: %w", err)
	}
	return &group, nil
}

// MarshalGroup renders a group the way group files are written.
func MarshalGroup(group *models.GroupConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(group); err != nil {
		return nil, fmt.Errorf("failed to encode group %s: %w", group.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
