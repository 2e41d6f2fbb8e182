package edit

// SaveOutcome labels how a save attempt ended.
type SaveOutcome string

// Save outcomes.
const (
	SaveOK       SaveOutcome = "ok"
	SaveFailed   SaveOutcome = "failed"
	SaveInvalid  SaveOutcome = "invalid"
	SaveRejected SaveOutcome = "rejected"
)

// Observer is notified of session activity. Implementations must be safe for
// concurrent use; the metrics package provides one.
type Observer interface {
	Loaded(kind string, err error)
	ValidationStarted(kind string)
	ValidationSuperseded(kind string)
	ValidationFailed(kind string)
	ValidationCompleted(kind string, status Status)
	Saved(kind string, outcome SaveOutcome)
}

type nopObserver struct{}

func (nopObserver) Loaded(string, error) {}
func (nopObserver) ValidationStarted(string) {}
func (nopObserver) ValidationSuperseded(string) {}
func (nopObserver) ValidationFailed(string) {}
func (nopObserver) ValidationCompleted(string, Status) {}
func (nopObserver) Saved(string, SaveOutcome) {}
