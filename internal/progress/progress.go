// Package progress defines the normalized progress events every engine client
// emits, independent of the engine's own output format.
package progress

// Stage names the pipeline phase a progress event belongs to.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageConverting  Stage = "converting"
	StageComplete    Stage = "complete"
)

// Update is one normalized progress event. Rate and ETA are optional and left
// blank when the engine did not report them.
type Update struct {
	Stage   Stage
	Percent float64
	Rate    string
	ETA     string
}

// Func receives progress updates. A nil Func is valid and ignored by Emit.
type Func func(Update)

// Emit calls fn with u when fn is non-nil, clamping Percent into [0, 100].
func (fn Func) Emit(u Update) {
	if fn == nil {
		return
	}
	switch {
	case u.Percent < 0:
		u.Percent = 0
	case u.Percent > 100:
		u.Percent = 100
	}
	fn(u)
}
