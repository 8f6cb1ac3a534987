package importer

// Progress receives completion percentages for the three import phases. Implementations
// are called from the import goroutine and must not block it.
type Progress interface {
	Report(notes, cards, post int)
}

// NopProgress discards progress reports.
type NopProgress struct{}

// Report implements Progress.
func (NopProgress) Report(int, int, int) {}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(notes, cards, post int)

// Report implements Progress.
func (f ProgressFunc) Report(notes, cards, post int) { f(notes, cards, post) }

// ticker reports per-item progress for one phase, throttled to whole-percent steps on
// large inputs.
type ticker struct {
	total   int
	step    int
	done    int
	publish func(pct int)
}

func newTicker(total int, publish func(pct int)) *ticker {
	step := 1
	if total > 200 {
		step = total / 100
	}
	return &ticker{total: total, step: step, publish: publish}
}

func (t *ticker) tick() {
	t.done++
	if t.total == 0 || t.done%t.step != 0 {
		return
	}
	t.publish(min(t.done*100/t.total, 100))
}
