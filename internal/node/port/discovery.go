package port

import (
	"context"

	"github.com/anthanhphan/go-chord/pkg/ring"
)

// ContactSource yields ring members a starting node may join through.
type ContactSource interface {
	// Contacts returns known members other than the local node.
	Contacts(ctx context.Context) ([]ring.Node, error)

	// Close withdraws the local node and releases resources.
	Close() error
}
