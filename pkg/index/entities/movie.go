package entities

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/types"
)

const (
	MovieStream = "movie"
	MovieIndex  = "movies"
)

// The change date of a film is the latest modification of the film itself,
// its persons or its genres, so renaming a person re-indexes their films.
const movieQuery = `
SELECT
    fw.id,
    fw.rating AS imdb_rating,
    fw.title,
    fw.description,
    COALESCE(
        jsonb_agg(DISTINCT jsonb_build_object('id', g.id, 'name', g.name))
            FILTER (WHERE g.id IS NOT NULL),
        '[]'::jsonb
    ) AS genres,
    COALESCE(
        jsonb_agg(DISTINCT jsonb_build_object('id', p.id, 'name', p.full_name))
            FILTER (WHERE p.id IS NOT NULL AND pfw.role = 'director'),
        '[]'::jsonb
    ) AS directors,
    COALESCE(
        jsonb_agg(DISTINCT jsonb_build_object('id', p.id, 'name', p.full_name))
            FILTER (WHERE p.id IS NOT NULL AND pfw.role = 'actor'),
        '[]'::jsonb
    ) AS actors,
    COALESCE(
        jsonb_agg(DISTINCT jsonb_build_object('id', p.id, 'name', p.full_name))
            FILTER (WHERE p.id IS NOT NULL AND pfw.role = 'writer'),
        '[]'::jsonb
    ) AS writers,
    GREATEST(fw.modified, MAX(p.modified), MAX(g.modified)) AS last_change_date
FROM content.film_work fw
LEFT JOIN content.person_film_work pfw ON pfw.film_work_id = fw.id
LEFT JOIN content.person p ON p.id = pfw.person_id
LEFT JOIN content.genre_film_work gfw ON gfw.film_work_id = fw.id
LEFT JOIN content.genre g ON g.id = gfw.genre_id
GROUP BY fw.id
HAVING GREATEST(fw.modified, MAX(p.modified), MAX(g.modified)) >= $1
ORDER BY fw.id`

// NamedRef is a related entity embedded in a film
type NamedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Movie struct {
	ID             string     `json:"id"`
	ImdbRating     *float64   `json:"imdb_rating"`
	Title          string     `json:"title"`
	Description    *string    `json:"description"`
	Genres         []NamedRef `json:"genres"`
	DirectorsNames []string   `json:"directors_names"`
	ActorsNames    []string   `json:"actors_names"`
	WritersNames   []string   `json:"writers_names"`
	DirectorsIDs   []string   `json:"directors_ids"`
	ActorsIDs      []string   `json:"actors_ids"`
	WritersIDs     []string   `json:"writers_ids"`
	Directors      []NamedRef `json:"directors"`
	Actors         []NamedRef `json:"actors"`
	Writers        []NamedRef `json:"writers"`
	LastChangeDate time.Time  `json:"last_change_date"`
}

func (m *Movie) DocumentID() string    { return m.ID }
func (m *Movie) ChangeDate() time.Time { return m.LastChangeDate }

func MovieDescriptor() *index.Descriptor {
	ref := func() index.Property {
		return nested(map[string]index.Property{
			"id":   keyword(),
			"name": text(),
		})
	}

	return &index.Descriptor{
		Stream: MovieStream,
		Schema: newSchema(MovieIndex, map[string]index.Property{
			"id":          keyword(),
			"imdb_rating": {Type: "float"},
			"title": {
				Type:     "text",
				Analyzer: analyzerName,
				Fields:   map[string]index.Property{"raw": keyword()},
			},
			"description":      text(),
			"genres":           ref(),
			"directors_names":  text(),
			"actors_names":     text(),
			"writers_names":    text(),
			"directors_ids":    keyword(),
			"actors_ids":       keyword(),
			"writers_ids":      keyword(),
			"directors":        ref(),
			"actors":           ref(),
			"writers":          ref(),
			"last_change_date": changeDate(),
		}),
		Query: movieQuery,
		Scan:  scanMovie,
	}
}

func scanMovie(row index.RowScanner) (index.Document, error) {
	var (
		m                                  Movie
		rating                             sql.NullFloat64
		description                        sql.NullString
		genres, directors, actors, writers []byte
		changed                            sql.NullTime
	)
	if err := row.Scan(&m.ID, &rating, &m.Title, &description, &genres, &directors, &actors, &writers, &changed); err != nil {
		return nil, err
	}
	if !changed.Valid {
		return nil, &types.ErrMissingChangeDate{Stream: MovieStream, ID: m.ID}
	}

	if rating.Valid {
		m.ImdbRating = &rating.Float64
	}
	if description.Valid {
		m.Description = &description.String
	}

	var err error
	if m.Genres, err = decodeRefs(genres); err != nil {
		return nil, fmt.Errorf("decode genres of film %s: %w", m.ID, err)
	}
	if m.Directors, err = decodeRefs(directors); err != nil {
		return nil, fmt.Errorf("decode directors of film %s: %w", m.ID, err)
	}
	if m.Actors, err = decodeRefs(actors); err != nil {
		return nil, fmt.Errorf("decode actors of film %s: %w", m.ID, err)
	}
	if m.Writers, err = decodeRefs(writers); err != nil {
		return nil, fmt.Errorf("decode writers of film %s: %w", m.ID, err)
	}

	m.DirectorsIDs, m.DirectorsNames = splitRefs(m.Directors)
	m.ActorsIDs, m.ActorsNames = splitRefs(m.Actors)
	m.WritersIDs, m.WritersNames = splitRefs(m.Writers)
	m.LastChangeDate = changed.Time.UTC()
	return &m, nil
}

func decodeRefs(raw []byte) ([]NamedRef, error) {
	refs := []NamedRef{}
	if len(raw) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []NamedRef{}
	}
	return refs, nil
}

func splitRefs(refs []NamedRef) (ids, names []string) {
	ids = make([]string, 0, len(refs))
	names = make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
		names = append(names, r.Name)
	}
	return ids, names
}
