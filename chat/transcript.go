package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer receives transcript mutations in display order.
// Implementations must not mutate the transcript they observe.
type Observer interface {
	// MessageAppended is called once per appended entry. Renderers should
	// scroll to the latest entry.
	MessageAppended(msg Message)

	// TranscriptReplaced is called when the whole history is swapped out,
	// either by a restore or by a reset.
	TranscriptReplaced(msgs []Message)
}

// Transcript is the single ordered view of a conversation. It merges entries
// restored from the cache, optimistic local entries, and server pushed entries.
// Server identities are unique within a transcript.
type Transcript struct {
	// notifyMu keeps observer callbacks in the same order as the mutations.
	notifyMu sync.Mutex

	mu        sync.Mutex
	messages  []Message
	seen      map[int64]struct{}
	observers []Observer
	now       func() time.Time
}

// NewTranscript creates an empty transcript.
func NewTranscript(observers ...Observer) *Transcript {
	return &Transcript{
		seen:      make(map[int64]struct{}),
		observers: observers,
		now:       time.Now,
	}
}

// Subscribe registers an observer for subsequent mutations.
func (t *Transcript) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Restore replaces the whole transcript with a snapshot.
func (t *Transcript) Restore(msgs []Message) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	t.messages = make([]Message, 0, len(msgs))
	t.seen = make(map[int64]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID != 0 {
			if _, dup := t.seen[msg.ID]; dup {
				continue
			}
			t.seen[msg.ID] = struct{}{}
		}
		t.messages = append(t.messages, msg)
	}
	snapshot := t.snapshotLocked()
	observers := t.observersLocked()
	t.mu.Unlock()

	for _, o := range observers {
		o.TranscriptReplaced(snapshot)
	}
}

// Remove drops the local entry with the given id and reports whether it was
// present. Observers see the remaining entries as a replacement.
func (t *Transcript) Remove(localID string) bool {
	if localID == "" {
		return false
	}

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	idx := -1
	for i := range t.messages {
		if t.messages[i].LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}
	if id := t.messages[idx].ID; id != 0 {
		delete(t.seen, id)
	}
	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	snapshot := t.snapshotLocked()
	observers := t.observersLocked()
	t.mu.Unlock()

	for _, o := range observers {
		o.TranscriptReplaced(snapshot)
	}
	return true
}

// Reset drops every entry.
func (t *Transcript) Reset() {
	t.Restore(nil)
}

// AddLocal appends an entry created on this side (an optimistic visitor
// message or a notice) and returns it with its local id.
func (t *Transcript) AddLocal(sender SenderType, body string) Message {
	msg := Message{
		LocalID:   uuid.NewString(),
		Sender:    sender,
		Body:      body,
		Timestamp: t.now(),
	}
	t.append(msg)
	return msg
}

// AddServer appends an entry that may carry a server identity. An entry whose
// identity is already present is skipped and false is returned.
func (t *Transcript) AddServer(msg Message) (Message, bool) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = t.now()
	}
	if msg.ID == 0 && msg.LocalID == "" {
		msg.LocalID = uuid.NewString()
	}
	if !t.append(msg) {
		return Message{}, false
	}
	return msg, true
}

// Confirm attaches a server identity to a provisional entry. The entry keeps
// its position. It returns false when the entry is unknown, already confirmed,
// or the identity is taken by another entry.
func (t *Transcript) Confirm(localID string, id int64) bool {
	if localID == "" || id == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[id]; dup {
		return false
	}
	for i := range t.messages {
		if t.messages[i].LocalID != localID {
			continue
		}
		if t.messages[i].ID != 0 {
			return false
		}
		t.messages[i].ID = id
		t.seen[id] = struct{}{}
		return true
	}
	return false
}

// Contains reports whether an entry with the given server identity exists.
func (t *Transcript) Contains(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[id]
	return ok
}

// Messages returns a copy of the entries in display order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Transcript) append(msg Message) bool {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if msg.ID != 0 {
		if _, dup := t.seen[msg.ID]; dup {
			t.mu.Unlock()
			return false
		}
		t.seen[msg.ID] = struct{}{}
	}
	t.messages = append(t.messages, msg)
	observers := t.observersLocked()
	t.mu.Unlock()

	for _, o := range observers {
		o.MessageAppended(msg)
	}
	return true
}

func (t *Transcript) snapshotLocked() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) observersLocked() []Observer {
	out := make([]Observer, len(t.observers))
	copy(out, t.observers)
	return out
}
