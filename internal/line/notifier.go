package line

import (
	"context"
	"log"
)

// Notifier delivers out-of-band operator alerts as push messages to the
// configured admin users. Best effort: a failed push is logged, not returned.
type Notifier struct {
	client   *Client
	adminIDs []string
}

func NewNotifier(client *Client, adminIDs []string) *Notifier {
	return &Notifier{client: client, adminIDs: adminIDs}
}

func (n *Notifier) Notify(ctx context.Context, text string) {
	if len(n.adminIDs) == 0 {
		log.Printf("⚠️ operator alert (no admins configured): %s", text)
		return
	}
	for _, id := range n.adminIDs {
		if err := n.client.Push(ctx, id, "🚨 "+text); err != nil {
			log.Printf("failed to notify admin %s: %v", truncateID(id), err)
		}
	}
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
