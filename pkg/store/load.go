package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

// Document is one YAML document accepted by LoadDocuments.
//
//	entries:
//	  monsters:
//	    slime: {name: Slime, hp: 10, drop: items.potion}
//	resources:
//	  fire: {en: Fire, ja: 火}
//	  title: Bestiary
type Document struct {
	Entries   map[string]map[string]any `yaml:"entries"`
	Resources map[string]any            `yaml:"resources"`
}

// LoadStats counts the documents written by LoadDocuments.
type LoadStats struct {
	Entries   int
	Resources int
}

// LoadDocuments decodes a stream of YAML documents from r and upserts every
// entry and resource into w under package pkg. Writes happen in sorted key
// order so repeated loads are reproducible.
func LoadDocuments(ctx context.Context, w Writer, pkg string, r io.Reader) (LoadStats, error) {
	var stats LoadStats
	dec := yaml.NewDecoder(r)
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to decode document: %w", err)
		}

		for _, group := range sortedKeys(doc.Entries) {
			items := doc.Entries[group]
			for _, id := range sortedKeys(items) {
				e := &entry.Entry{Package: pkg, Group: group, ID: id, Attributes: entry.FromAny(items[id])}
				if err = w.PutEntry(ctx, e); err != nil {
					return stats, err
				}
				stats.Entries++
			}
		}
		for _, id := range sortedKeys(doc.Resources) {
			res := &entry.Resource{Package: pkg, ID: id, Value: entry.FromAny(doc.Resources[id])}
			if err = w.PutResource(ctx, res); err != nil {
				return stats, err
			}
			stats.Resources++
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
