// workers/receipt_channel.go
package workers

import (
	"context"
	"errors"
)

const ChannelReceiptArchive = "receipt_archive"

// ObjectStore stores a blob and returns where it can be fetched.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ReceiptArchiveChannel stores the rendered receipt instead of mailing it.
// The public URL is used as the message id.
type ReceiptArchiveChannel struct {
	store ObjectStore
}

func NewReceiptArchiveChannel(store ObjectStore) *ReceiptArchiveChannel {
	return &ReceiptArchiveChannel{store: store}
}

func (c *ReceiptArchiveChannel) Name() string { return ChannelReceiptArchive }

func (c *ReceiptArchiveChannel) Deliver(ctx context.Context, msg Message) (string, error) {
	if msg.ObjectKey == "" {
		return "", errors.New("receipt has no object key")
	}
	return c.store.Put(ctx, msg.ObjectKey, []byte(msg.HTML), "text/html; charset=utf-8")
}
