package driver

// ProgressReporter receives progress updates from a run. The CLI's
// Reporter implements this; callers that don't want progress output can
// pass a no-op implementation.
type ProgressReporter interface {
	SetStatus(text string)
	SetProgress(fraction float32, info string)
	Update()
	IsCancelled() bool
}

// nullReporter discards every update.
type nullReporter struct{}

func (nullReporter) SetStatus(string)            {}
func (nullReporter) SetProgress(float32, string) {}
func (nullReporter) Update()                     {}
func (nullReporter) IsCancelled() bool           { return false }
