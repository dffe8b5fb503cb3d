package ecs

// UpdateFrame is handed to every system during a scheduler pass. Systems read
// Storage directly and queue their writes on Diff, which is applied after the
// last system has run.
type UpdateFrame struct {
	DeltaTime float64
	Diff      *Diff
	Storage   *Storage
}

func newUpdateFrame(dt float64, storage *Storage) *UpdateFrame {
	return &UpdateFrame{
		DeltaTime: dt,
		Diff:      NewDiff(),
		Storage:   storage,
	}
}
