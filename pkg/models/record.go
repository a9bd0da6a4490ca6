package models

// Record is one entity as the record store currently believes it to be.
// Values handed out by the store are copies; mutating them has no effect on
// the store.
type Record struct {
	ID      RecordID
	Version uint64
	Fields  Fields
}

func NewRecord(id int64, f Fields) Record {
	return Record{ID: RecordID{Kind: f.Kind(), ID: id}, Fields: f}
}

func (r Record) Clone() Record {
	c := r
	if r.Fields != nil {
		c.Fields = r.Fields.Clone()
	}
	return c
}

// Post returns the payload as a post, or nil for other kinds.
func (r Record) Post() *Post {
	p, _ := r.Fields.(*Post)
	return p
}

func (r Record) Comment() *Comment {
	c, _ := r.Fields.(*Comment)
	return c
}

func (r Record) Profile() *ProfileSummary {
	p, _ := r.Fields.(*ProfileSummary)
	return p
}
