package entities

import "github.com/beam-cloud/indexsync/pkg/index"

const (
	analyzerName    = "ru_en"
	refreshInterval = "1s"
)

// analysis returns the bilingual Russian and English analysis shared by every index
func analysis() index.Analysis {
	return index.Analysis{
		Filter: map[string]map[string]any{
			"english_stop":               {"type": "stop", "stopwords": "_english_"},
			"english_stemmer":            {"type": "stemmer", "language": "english"},
			"english_possessive_stemmer": {"type": "stemmer", "language": "possessive_english"},
			"russian_stop":               {"type": "stop", "stopwords": "_russian_"},
			"russian_stemmer":            {"type": "stemmer", "language": "russian"},
		},
		Analyzer: map[string]map[string]any{
			analyzerName: {
				"tokenizer": "standard",
				"filter": []string{
					"lowercase",
					"english_stop",
					"english_stemmer",
					"english_possessive_stemmer",
					"russian_stop",
					"russian_stemmer",
				},
			},
		},
	}
}

func newSchema(name string, properties map[string]index.Property) index.IndexSchema {
	return index.IndexSchema{
		Name: name,
		Settings: index.IndexSettings{
			RefreshInterval: refreshInterval,
			Analysis:        analysis(),
		},
		Mappings: index.Mappings{
			Dynamic:    "strict",
			Properties: properties,
		},
	}
}

func keyword() index.Property {
	return index.Property{Type: "keyword"}
}

func text() index.Property {
	return index.Property{Type: "text", Analyzer: analyzerName}
}

// changeDate is stored for reference only
func changeDate() index.Property {
	disabled := false
	return index.Property{Type: "keyword", Index: &disabled}
}

func nested(properties map[string]index.Property) index.Property {
	return index.Property{Type: "nested", Dynamic: "strict", Properties: properties}
}

// Register adds every entity stream to registry in sync order
func Register(registry *index.Registry) {
	registry.Register(MovieDescriptor())
	registry.Register(GenreDescriptor())
	registry.Register(PersonDescriptor())
}

// NewRegistry returns a registry holding the movie, genre and person streams
func NewRegistry() *index.Registry {
	registry := index.NewRegistry()
	Register(registry)
	return registry
}
