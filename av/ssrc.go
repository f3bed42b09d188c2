package av

import "sync"

// Participant is a remote member of the call as seen through one SSRC.
type Participant struct {
	ID       string
	SSRC     uint32
	HasVideo bool
	Speaking SpeakingFlags
}

// SSRCMap resolves inbound SSRCs to participants. Implementations must be
// safe for concurrent use.
type SSRCMap interface {
	Lookup(ssrc uint32) (Participant, bool)
}

// SSRCTable is an in-memory SSRCMap fed by the signaling layer.
type SSRCTable struct {
	mu      sync.RWMutex
	entries map[uint32]Participant
}

// NewSSRCTable creates an empty table.
func NewSSRCTable() *SSRCTable {
	return &SSRCTable{entries: make(map[uint32]Participant)}
}

// Set adds or replaces the participant for p.SSRC.
func (t *SSRCTable) Set(p Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p.SSRC] = p
}

// Delete removes an SSRC and reports whether it was present.
func (t *SSRCTable) Delete(ssrc uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[ssrc]
	delete(t.entries, ssrc)
	return ok
}

// Lookup implements SSRCMap.
func (t *SSRCTable) Lookup(ssrc uint32) (Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[ssrc]
	return p, ok
}

// Len returns the number of mapped SSRCs.
func (t *SSRCTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
