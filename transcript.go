package rtvoice

import "sync"

// TranscriptAssembler collects streaming transcript chunks of spoken replies and
// reassembles them into one line per response.
type TranscriptAssembler struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewTranscriptAssembler creates a new TranscriptAssembler instance.
func NewTranscriptAssembler() *TranscriptAssembler {
	return &TranscriptAssembler{data: make(map[string][]byte)}
}

// OnDelta appends a transcript delta for its response.
func (t *TranscriptAssembler) OnDelta(e ResponseAudioTranscriptDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[e.ResponseID] = append(t.data[e.ResponseID], e.Delta...)
}

// OnDone returns and forgets the transcript for a finished response, preferring
// the complete transcript when the event carries one.
func (t *TranscriptAssembler) OnDone(e ResponseAudioTranscriptDone) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.data[e.ResponseID]
	delete(t.data, e.ResponseID)
	if e.Transcript != "" {
		return e.Transcript
	}
	return string(buf)
}

// Feed routes an inbound message to OnDelta or OnDone. It returns the finished
// transcript and true when msg completed one.
func (t *TranscriptAssembler) Feed(msg InboundMessage) (string, bool) {
	switch msg.Type {
	case TypeResponseAudioTranscriptDelta:
		var e ResponseAudioTranscriptDelta
		if err := msg.Decode(&e); err == nil {
			t.OnDelta(e)
		}
	case TypeResponseAudioTranscriptDone:
		var e ResponseAudioTranscriptDone
		if err := msg.Decode(&e); err == nil {
			return t.OnDone(e), true
		}
	}
	return "", false
}
