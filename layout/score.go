package layout

const (
	scoreBase          = 0.5
	scoreMultiElement  = 0.3
	scoreNonRepetitive = 0.2
	// GoodEnoughScore stops the retry loop early.
	GoodEnoughScore = 0.9
)

// Score rates a validated descriptor against the arrangement history.
// It is a pure function of its inputs.
func Score(d *Descriptor, t *VarietyTracker) float64 {
	if d.Empty() {
		return 0
	}
	s := scoreBase
	if len(d.Elements) > 1 {
		s += scoreMultiElement
	}
	if t == nil || !t.IsRepetitive(d.Arrangement) {
		s += scoreNonRepetitive
	}
	return s
}
