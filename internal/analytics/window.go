package analytics

// WindowType identifies a fixed look-back window.
type WindowType string

const (
	Window1Y  WindowType = "1Y"
	Window3Y  WindowType = "3Y"
	Window5Y  WindowType = "5Y"
	Window10Y WindowType = "10Y"
)

// Windows lists every computed window, shortest first.
var Windows = []WindowType{Window1Y, Window3Y, Window5Y, Window10Y}

// Years returns the integer year count of the window.
func (w WindowType) Years() int {
	switch w {
	case Window1Y:
		return 1
	case Window3Y:
		return 3
	case Window5Y:
		return 5
	case Window10Y:
		return 10
	default:
		return 0
	}
}

// Days measures the window in calendar days, 365 per year.
func (w WindowType) Days() int {
	return 365 * w.Years()
}

// Valid reports whether w is one of the computed windows.
func (w WindowType) Valid() bool {
	return w.Years() != 0
}
