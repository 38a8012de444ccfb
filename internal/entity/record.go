package entity

// Record is a plain-data Entity. Stores that do not have richer domain
// objects return Records.
type Record struct {
	Kind Type
	In   Scope
	ID   string
	Name string
}

// Type implements Entity.
func (r *Record) Type() Type { return r.Kind }

// Scope implements Entity.
func (r *Record) Scope() Scope { return r.In }

// Key implements Entity.
func (r *Record) Key() string { return r.ID }

// Title implements Entity.
func (r *Record) Title() string { return r.Name }
