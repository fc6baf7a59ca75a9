package index

import "time"

// Document is one search index document built from a source row.
// DocumentID is the source natural id and becomes the index _id, so loading
// the same document twice overwrites it.
type Document interface {
	DocumentID() string
	ChangeDate() time.Time
}

// Batch is an ordered page of documents read from one cursor fetch
type Batch struct {
	Stream    string
	Documents []Document
}

// Len returns the number of documents in the batch
func (b *Batch) Len() int {
	return len(b.Documents)
}

// MaxChangeDate returns the latest change date in the batch, or the zero time
// for an empty batch
func (b *Batch) MaxChangeDate() time.Time {
	var max time.Time
	for _, doc := range b.Documents {
		if t := doc.ChangeDate(); t.After(max) {
			max = t
		}
	}
	return max
}
