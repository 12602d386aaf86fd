// Package links serves the service-link directory for the site footer.
package links

import (
	"context"
	"sort"
	"strings"

	"github.com/ianlrsn/livegate/internal/store"
)

// Directory reads and normalizes the link table.
type Directory struct {
	links store.LinkStore
}

// NewDirectory wires the directory to its store.
func NewDirectory(links store.LinkStore) *Directory {
	return &Directory{links: links}
}

// Links returns service name to URL, with blank names or URLs filtered out.
// Duplicate service names keep the last row, matching upsert-style edits to
// the table.
func (d *Directory) Links(ctx context.Context) (map[string]string, error) {
	rows, err := d.links.Links(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		service := strings.TrimSpace(row.Service)
		url := strings.TrimSpace(row.URL)
		if service == "" || url == "" {
			continue
		}
		out[service] = url
	}
	return out, nil
}

// SortedNames returns the directory's service names ordered
// case-insensitively, for stable externalization.
func SortedNames(links map[string]string) []string {
	names := make([]string, 0, len(links))
	for name := range links {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})
	return names
}
