package hearing

// Recorder receives lifecycle notifications for audit and observability.
// Implementations must be best-effort: a recorder failure never aborts the
// operation that produced the event. The case log and the dashboard's event
// stream both implement this.
type Recorder interface {
	HearingOpened(h *Hearing)
	HearingEdited(h *Hearing, field, actor string)
	RosterChanged(h *Hearing, detail string)
	VerdictPosted(h *Hearing, outcome, actor string)
	HearingClosed(h *Hearing, actor string)
}

// NopRecorder discards all notifications.
type NopRecorder struct{}

func (NopRecorder) HearingOpened(*Hearing)                  {}
func (NopRecorder) HearingEdited(*Hearing, string, string)  {}
func (NopRecorder) RosterChanged(*Hearing, string)          {}
func (NopRecorder) VerdictPosted(*Hearing, string, string)  {}
func (NopRecorder) HearingClosed(*Hearing, string)          {}

// MultiRecorder fans notifications out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) HearingOpened(h *Hearing) {
	for _, r := range m {
		r.HearingOpened(h)
	}
}

func (m MultiRecorder) HearingEdited(h *Hearing, field, actor string) {
	for _, r := range m {
		r.HearingEdited(h, field, actor)
	}
}

func (m MultiRecorder) RosterChanged(h *Hearing, detail string) {
	for _, r := range m {
		r.RosterChanged(h, detail)
	}
}

func (m MultiRecorder) VerdictPosted(h *Hearing, outcome, actor string) {
	for _, r := range m {
		r.VerdictPosted(h, outcome, actor)
	}
}

func (m MultiRecorder) HearingClosed(h *Hearing, actor string) {
	for _, r := range m {
		r.HearingClosed(h, actor)
	}
}
