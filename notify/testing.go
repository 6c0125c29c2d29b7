package notify

import (
	"context"
	"sync"
)

// CaptureNotifier records every notification in memory. Test fixture.
type CaptureNotifier struct {
	mu        sync.Mutex
	Moderator []CapturedMessage
	Admin     []CapturedMessage
}

type CapturedMessage struct {
	Recipient string
	Text      string
}

func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{}
}

func (n *CaptureNotifier) NotifyModerator(ctx context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Moderator = append(n.Moderator, CapturedMessage{Recipient: userID, Text: text})
	return nil
}

func (n *CaptureNotifier) NotifyAdministrators(ctx context.Context, guildID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Admin = append(n.Admin, CapturedMessage{Recipient: guildID, Text: text})
	return nil
}

// AdminMessages returns a copy of the admin alerts captured so far.
func (n *CaptureNotifier) AdminMessages() []CapturedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]CapturedMessage, len(n.Admin))
	copy(out, n.Admin)
	return out
}

// ModeratorMessages returns a copy of the moderator messages captured so far.
func (n *CaptureNotifier) ModeratorMessages() []CapturedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]CapturedMessage, len(n.Moderator))
	copy(out, n.Moderator)
	return out
}
