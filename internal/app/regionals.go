package app

import (
	"fmt"
	"strings"

	"github.com/hcpvision/induction-sync/internal/domain"
)

// RegionalMapping maps a regional slug to a HikCentral privilege group id.
type RegionalMapping map[string]string

// DefaultRegionalMapping returns the built-in zone mapping.
func DefaultRegionalMapping() RegionalMapping {
	return RegionalMapping{
		"zona-i":   "1",
		"zona-ii":  "2",
		"zona-iii": "6",
		"zona-iv":  "7",
		"tuks":     "8",
		"kawasan":  "9",
	}
}

// ParseRegionalMapping parses "slug=id,slug=id". An empty string yields the default mapping.
func ParseRegionalMapping(raw string) (RegionalMapping, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultRegionalMapping(), nil
	}

	mapping := RegionalMapping{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		slug, id, ok := strings.Cut(pair, "=")
		slug, id = strings.ToLower(strings.TrimSpace(slug)), strings.TrimSpace(id)
		if !ok || slug == "" || id == "" {
			return nil, fmt.Errorf("invalid regional mapping entry %q (want slug=id)", pair)
		}
		mapping[slug] = id
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("regional mapping %q has no entries", raw)
	}
	return mapping, nil
}

// GroupIDs resolves regionals to privilege group ids in input order. Unknown slugs are
// skipped and repeated ids appear once.
func (m RegionalMapping) GroupIDs(regionals []domain.Regional) []string {
	var ids []string
	seen := make(map[string]bool, len(regionals))
	for _, regional := range regionals {
		id, ok := m[strings.ToLower(strings.TrimSpace(regional.Slug))]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
