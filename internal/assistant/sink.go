package assistant

// Sink receives user-facing session output. Implementations must not block:
// level updates arrive at display rate from the audio goroutines.
type Sink interface {
	// Transcript receives model text that passed the narration filter.
	Transcript(text string)

	// Status receives a snapshot after every state transition.
	Status(st Status)

	// InputLevel receives the microphone level in [0,1].
	InputLevel(level float64)

	// OutputLevel receives the playback level in [0,1].
	OutputLevel(level float64)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Transcript(string)   {}
func (NopSink) Status(Status)       {}
func (NopSink) InputLevel(float64)  {}
func (NopSink) OutputLevel(float64) {}

// MultiSink fans every call out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Transcript(text string) {
	for _, s := range m {
		s.Transcript(text)
	}
}

func (m MultiSink) Status(st Status) {
	for _, s := range m {
		s.Status(st)
	}
}

func (m MultiSink) InputLevel(level float64) {
	for _, s := range m {
		s.InputLevel(level)
	}
}

func (m MultiSink) OutputLevel(level float64) {
	for _, s := range m {
		s.OutputLevel(level)
	}
}

var (
	_ Sink = NopSink{}
	_ Sink = MultiSink(nil)
)
