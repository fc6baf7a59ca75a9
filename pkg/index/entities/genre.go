package entities

import (
	"database/sql"
	"time"

	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/types"
)

const (
	GenreStream = "genre"
	GenreIndex  = "genres"
)

const genreQuery = `
SELECT
    g.id,
    g.name,
    g.description,
    g.modified AS last_change_date
FROM content.genre g
WHERE g.modified >= $1
ORDER BY g.id`

type Genre struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description"`
	LastChangeDate time.Time `json:"last_change_date"`
}

func (g *Genre) DocumentID() string    { return g.ID }
func (g *Genre) ChangeDate() time.Time { return g.LastChangeDate }

func GenreDescriptor() *index.Descriptor {
	return &index.Descriptor{
		Stream: GenreStream,
		Schema: newSchema(GenreIndex, map[string]index.Property{
			"id":               keyword(),
			"name":             text(),
			"description":      text(),
			"last_change_date": changeDate(),
		}),
		Query: genreQuery,
		Scan:  scanGenre,
	}
}

func scanGenre(row index.RowScanner) (index.Document, error) {
	var (
		g           Genre
		description sql.NullString
		changed     sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.Name, &description, &changed); err != nil {
		return nil, err
	}
	if !changed.Valid {
		return nil, &types.ErrMissingChangeDate{Stream: GenreStream, ID: g.ID}
	}
	if description.Valid {
		g.Description = &description.String
	}
	g.LastChangeDate = changed.Time.UTC()
	return &g, nil
}
