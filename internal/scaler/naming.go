package scaler

import (
	"strconv"
	"strings"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

const idPlaceholder = "{id}"

// namePattern returns the group's naming pattern, defaulting to
// "<group>-{id}" and always containing the placeholder.
func namePattern(group *models.GroupConfig) string {
	pattern := group.Server.Naming.Pattern
	if pattern == "" {
		return strings.ToLower(group.Name) + "-" + idPlaceholder
	}
	if !strings.Contains(pattern, idPlaceholder) {
		return pattern + "-" + idPlaceholder
	}
	return pattern
}

func usesUUID(group *models.GroupConfig) bool {
	return strings.EqualFold(string(group.Server.Naming.Identifier), string(models.IdentifierUUID))
}

// nextNameLocked derives a free server name. Numbered names take the lowest
// number not used by a tracked or reserved server.
func (s *Scaler) nextNameLocked() string {
	pattern := namePattern(s.group)
	if usesUUID(s.group) {
		return strings.Replace(pattern, idPlaceholder, models.ShortUUID(), 1)
	}

	used := make(map[int]struct{}, len(s.servers)+len(s.reserved))
	for _, server := range s.servers {
		if n := extractNumber(pattern, server.Name); n > 0 {
			used[n] = struct{}{}
		}
	}
	for name := range s.reserved {
		if n := extractNumber(pattern, name); n > 0 {
			used[n] = struct{}{}
		}
	}

	return strings.Replace(pattern, idPlaceholder, strconv.Itoa(lowestFree(used)), 1)
}

func lowestFree(used map[int]struct{}) int {
	for n := 1; ; n++ {
		if _, taken := used[n]; !taken {
			return n
		}
	}
}

// extractNumber reads the number a pattern placed into name, or 0 when
// name does not follow the pattern.
func extractNumber(pattern, name string) int {
	idx := strings.Index(pattern, idPlaceholder)
	if idx < 0 {
		return 0
	}
	prefix := pattern[:idx]
	suffix := pattern[idx+len(idPlaceholder):]

	if len(name) <= len(prefix)+len(suffix) || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0
	}

	n, err := strconv.Atoi(name[len(prefix) : len(name)-len(suffix)])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
