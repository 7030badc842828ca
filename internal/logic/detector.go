package logic

// Thresholds is a hysteresis pair. Enter is always strictly greater than Exit.
type Thresholds struct {
	Enter int
	Exit  int
}

// boundsMargin keeps the display range a little wider than the thresholds.
const boundsMargin = 10

// Detector classifies gate crossings from signal samples using hysteresis.
// It is stepped on a fixed tick and is not safe for concurrent use.
type Detector struct {
	th       Thresholds
	state    CrossingState
	active   bool
	minLevel int
	maxLevel int
}

// NewDetector creates a detector in the BELOW state with the given thresholds.
// The thresholds are normalised through the setters so the invariant holds.
func NewDetector(enter, exit int) *Detector {
	d := &Detector{
		th:    Thresholds{Enter: DefaultEnterLevel, Exit: DefaultExitLevel},
		state: Below,
	}
	d.SetExitLevel(exit)
	d.SetEnterLevel(enter)
	d.resetBounds()
	return d
}

// SetEnterLevel clamps v to [0,255]. If it is not above the exit level the exit
// level is pushed to max(0, enter-1).
func (d *Detector) SetEnterLevel(v int) {
	d.th.Enter = clampLevel(v)
	if d.th.Enter <= d.th.Exit {
		d.th.Exit = max(MinLevel, d.th.Enter-1)
	}
	// enter=0 leaves exit at 0 too; keep enter above it.
	if d.th.Enter <= d.th.Exit {
		d.th.Enter = d.th.Exit + 1
	}
}

// SetExitLevel clamps v to [0,255]. If it is not below the enter level the
// enter level is pushed to min(255, exit+1).
func (d *Detector) SetExitLevel(v int) {
	d.th.Exit = clampLevel(v)
	if d.th.Exit >= d.th.Enter {
		d.th.Enter = min(MaxLevel, d.th.Exit+1)
	}
	if d.th.Exit >= d.th.Enter {
		d.th.Exit = d.th.Enter - 1
	}
}

// Thresholds returns the current hysteresis pair.
func (d *Detector) Thresholds() Thresholds {
	return d.th
}

// State returns the current crossing state.
func (d *Detector) State() CrossingState {
	return d.state
}

// Crossing reports whether an object is currently at the gate.
func (d *Detector) Crossing() bool {
	return d.state == Above
}

// Active reports whether detection is running.
func (d *Detector) Active() bool {
	return d.active
}

// SetActive starts or pauses detection. Pausing resets the display bounds.
func (d *Detector) SetActive(active bool) {
	d.active = active
	if !active {
		d.resetBounds()
	}
}

// Step applies at most one sample. ok=false means the buffer was empty and no
// state change happens. It returns true when the crossing state changed.
// While inactive the sample is ignored and the display bounds are reset.
func (d *Detector) Step(level int, ok bool) bool {
	if !d.active {
		d.resetBounds()
		return false
	}
	if !ok {
		return false
	}

	d.maxLevel = max(d.maxLevel, level)
	d.minLevel = min(d.minLevel, level)

	switch d.state {
	case Below:
		if level > d.th.Enter {
			d.state = Above
			return true
		}
	case Above:
		if level < d.th.Exit {
			d.state = Below
			return true
		}
	}
	return false
}

// RunningBounds returns the raw running min/max since detection started.
func (d *Detector) RunningBounds() Bounds {
	return Bounds{Min: d.minLevel, Max: d.maxLevel}
}

// DisplayBounds returns the range a chart should show: the running extremes,
// widened so both thresholds stay visible, with the floor clamped at zero.
func (d *Detector) DisplayBounds() Bounds {
	return Bounds{
		Min: max(MinLevel, min(d.minLevel, d.th.Exit-boundsMargin)),
		Max: max(d.maxLevel, d.th.Enter+boundsMargin),
	}
}

func (d *Detector) resetBounds() {
	d.maxLevel = d.th.Enter + boundsMargin
	d.minLevel = d.th.Exit - boundsMargin
}

func clampLevel(v int) int {
	return max(MinLevel, min(MaxLevel, v))
}
