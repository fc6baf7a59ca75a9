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
	PersonStream = "person"
	PersonIndex  = "person"
)

// Roles are folded per film first so a person with several roles in one film
// yields a single films entry
const personQuery = `
SELECT
    p.id,
    p.full_name,
    COALESCE(
        json_agg(
            json_build_object('id', pf.film_work_id, 'roles', pf.roles)
            ORDER BY pf.film_work_id
        ) FILTER (WHERE pf.film_work_id IS NOT NULL),
        '[]'::json
    ) AS films,
    p.modified AS last_change_date
FROM content.person p
LEFT JOIN (
    SELECT person_id, film_work_id, array_agg(DISTINCT role ORDER BY role) AS roles
    FROM content.person_film_work
    GROUP BY person_id, film_work_id
) pf ON pf.person_id = p.id
WHERE p.modified >= $1
GROUP BY p.id, p.full_name, p.modified
ORDER BY p.id`

type PersonFilm struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

type Person struct {
	ID             string       `json:"id"`
	FullName       string       `json:"full_name"`
	Films          []PersonFilm `json:"films"`
	LastChangeDate time.Time    `json:"last_change_date"`
}

func (p *Person) DocumentID() string    { return p.ID }
func (p *Person) ChangeDate() time.Time { return p.LastChangeDate }

// MarshalJSON never omits or nulls the films list
func (p *Person) MarshalJSON() ([]byte, error) {
	type alias Person
	out := alias(*p)
	if out.Films == nil {
		out.Films = []PersonFilm{}
	}
	for i := range out.Films {
		if out.Films[i].Roles == nil {
			out.Films[i].Roles = []string{}
		}
	}
	return json.Marshal(out)
}

func PersonDescriptor() *index.Descriptor {
	return &index.Descriptor{
		Stream: PersonStream,
		Schema: newSchema(PersonIndex, map[string]index.Property{
			"id":        keyword(),
			"full_name": text(),
			"films": nested(map[string]index.Property{
				"id":    keyword(),
				"roles": keyword(),
			}),
			"last_change_date": changeDate(),
		}),
		Query: personQuery,
		Scan:  scanPerson,
	}
}

func scanPerson(row index.RowScanner) (index.Document, error) {
	var (
		p       Person
		films   []byte
		changed sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.FullName, &films, &changed); err != nil {
		return nil, err
	}
	if !changed.Valid {
		return nil, &types.ErrMissingChangeDate{Stream: PersonStream, ID: p.ID}
	}

	p.Films = []PersonFilm{}
	if len(films) > 0 {
		if err := json.Unmarshal(films, &p.Films); err != nil {
			return nil, fmt.Errorf("decode films of person %s: %w", p.ID, err)
		}
	}
	p.LastChangeDate = changed.Time.UTC()
	return &p, nil
}
