package store

// ReservedFields names the attributes (DynamoDB) and document keys (SQLite)
// that the compilers manage. Both dialects and every reader of the rows use
// the same instance, so the names cannot drift between write and read paths.
type ReservedFields struct {
	PK              string
	SK              string
	Type            string
	CreatedAt       string
	UpdatedAt       string
	OwnedBy         string
	TypeIndexPK     string
	TypeIndexSK     string
	InvertedIndexPK string
	InvertedIndexSK string
	RelationNames   string
}

// Fields is the reserved field set shared by both dialects.
var Fields = &ReservedFields{
	PK:              "__pk",
	SK:              "__sk",
	Type:            "__type",
	CreatedAt:       "__created_at",
	UpdatedAt:       "__updated_at",
	OwnedBy:         "__owned_by",
	TypeIndexPK:     "__gsi1pk",
	TypeIndexSK:     "__gsi1sk",
	InvertedIndexPK: "__gsi2pk",
	InvertedIndexSK: "__gsi2sk",
	RelationNames:   "__relation_names",
}

// IsReserved reports whether name is managed by the compilers.
func (f *ReservedFields) IsReserved(name string) bool {
	switch name {
	case f.PK, f.SK, f.Type, f.CreatedAt, f.UpdatedAt, f.OwnedBy,
		f.TypeIndexPK, f.TypeIndexSK, f.InvertedIndexPK, f.InvertedIndexSK, f.RelationNames:
		return true
	}
	return false
}
