package player

// DefaultStuckPolls is how many unchanged polls near the end count as finished.
const DefaultStuckPolls = 4

// CompletionDetector decides from successive (position, duration) samples
// when a track has finished. A track is complete when the position reaches
// duration-1, or when it has not moved for more than stuckPolls samples
// while within two seconds of the end. A zero duration (a track shorter than
// a second) only completes through the unchanged-position rule. It reports
// completion once until Reset.
type CompletionDetector struct {
	stuckPolls int
	lastPos    int
	unchanged  int
	fired      bool
}

func NewCompletionDetector(stuckPolls int) *CompletionDetector {
	if stuckPolls <= 0 {
		stuckPolls = DefaultStuckPolls
	}
	d := &CompletionDetector{stuckPolls: stuckPolls}
	d.Reset()
	return d
}

// Observe feeds one sample and reports whether the track just completed.
func (d *CompletionDetector) Observe(position, duration int) bool {
	if position != d.lastPos {
		d.lastPos = position
		d.unchanged = 0
	} else {
		d.unchanged++
	}

	if d.fired {
		return false
	}
	atEnd := duration > 0 && position >= duration-1
	stuck := d.unchanged > d.stuckPolls && position >= duration-2
	if atEnd || stuck {
		d.fired = true
		return true
	}
	return false
}

// Reset forgets the history; call it whenever a new track starts or the
// position jumps.
func (d *CompletionDetector) Reset() {
	d.lastPos = -1
	d.unchanged = 0
	d.fired = false
}
