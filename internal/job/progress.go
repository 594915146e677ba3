package job

// Progress is the aggregate state of a run.
type Progress struct {
	// Percent is the mean per-file fraction scaled to [0,100].
	Percent   float64
	Completed int
	Total     int
}

// Aggregate computes run progress as the arithmetic mean of per-file
// fractions. Completed counts files in the done state.
func Aggregate(tasks []*FileTask) Progress {
	p := Progress{Total: len(tasks)}
	if len(tasks) == 0 {
		return p
	}
	sum := 0.0
	for _, t := range tasks {
		sum += t.Fraction()
		if t.Status() == StatusDone {
			p.Completed++
		}
	}
	p.Percent = sum / float64(len(tasks)) * 100
	return p
}
