package live

// Turn is one user-utterance/model-response exchange, bounded by a
// turn-complete signal.
type Turn struct {
	User  string `json:"user"`
	Model string `json:"model"`
}

// Empty reports whether the turn has no text on either side.
func (t Turn) Empty() bool {
	return t.User == "" && t.Model == ""
}

// TranscriptAggregator accumulates transcript fragments into finalized
// turns. It holds exactly one mutable current turn; deltas append with no
// separator until a turn-complete seals the turn into history and resets the
// current turn to empty.
//
// The aggregator is not safe for concurrent use: it is owned by the session
// loop, which is its only writer.
type TranscriptAggregator struct {
	current Turn
	history []Turn
}

// NewTranscriptAggregator creates an empty aggregator.
func NewTranscriptAggregator() *TranscriptAggregator {
	return &TranscriptAggregator{}
}

// AddUserDelta appends a fragment of user speech to the current turn.
func (a *TranscriptAggregator) AddUserDelta(text string) {
	a.current.User += text
}

// AddModelDelta appends a fragment of model speech to the current turn.
func (a *TranscriptAggregator) AddModelDelta(text string) {
	a.current.Model += text
}

// CompleteTurn seals the current turn into history, preserving arrival
// order, and resets the current turn to empty. It returns the sealed turn.
func (a *TranscriptAggregator) CompleteTurn() Turn {
	sealed := a.current
	a.history = append(a.history, sealed)
	a.current = Turn{}
	return sealed
}

// Current returns the in-progress turn. A session that closes abnormally
// leaves the partial turn observable here; it is never sealed retroactively.
func (a *TranscriptAggregator) Current() Turn {
	return a.current
}

// History returns a copy of the sealed turns in arrival order.
func (a *TranscriptAggregator) History() []Turn {
	out := make([]Turn, len(a.history))
	copy(out, a.history)
	return out
}
