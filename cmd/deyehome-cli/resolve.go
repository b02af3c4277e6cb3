package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/deyehome/internal/entity"
)

// resolveNamedID matches input against option labels by slug, then by a
// unique slug substring.
func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := entity.Slug(input)
	if needle == "" {
		return "", fmt.Errorf("%s name is empty", kind)
	}
	var partial []string
	for label, id := range options {
		slug := entity.Slug(label)
		if slug == needle {
			return id, nil
		}
		if strings.Contains(slug, needle) {
			partial = append(partial, label)
		}
	}
	if len(partial) == 1 {
		return options[partial[0]], nil
	}

	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	if len(partial) > 1 {
		sort.Strings(partial)
		return "", fmt.Errorf("%s %q is ambiguous: %s", kind, input, strings.Join(partial, ", "))
	}
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
