package orm

type (
	// Model is embedded by every entity struct and tracks whether the entity is backed by a
	// stored row.
	Model struct {
		persisted bool
	}

	Entity interface {
		model() *Model
	}

	// EntityPtr lets Table[T] work on *T while T embeds Model.
	EntityPtr[T any] interface {
		*T
		Entity
	}
)

// Persisted reports whether the entity was inserted, matched an existing row on Persist, or
// was loaded from the store. It is not reset if the row is later deleted elsewhere.
func (m *Model) Persisted() bool {
	return m.persisted
}

func (m *Model) model() *Model {
	return m
}
