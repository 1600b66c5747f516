package domain

// EntityType names a family of entities sharing one id space.
type EntityType string

// ViewType names a read-only projection of an entity type.
type ViewType string

// Allocation records one id handed out to a transaction.
type Allocation struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}
