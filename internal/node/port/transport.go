package port

import (
	"context"
	"encoding/json"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

//go:generate mockgen -destination=../service/mocks/transport_mock.go -package=mocks -source=transport.go

// Transport moves envelopes between ring members.
type Transport interface {
	// Bind opens the endpoint and returns the address and port actually bound.
	Bind(ctx context.Context) (string, int, error)

	// Unbind closes the endpoint. Calling it twice is harmless.
	Unbind(ctx context.Context) error

	// Attach installs the handler for inbound commands and messages.
	Attach(handler InboundHandler)

	// Call sends payload to receiver and waits for the correlated response
	// or the context deadline, whichever comes first.
	Call(ctx context.Context, receiver ring.Node, kind domain.Kind, payload any) (json.RawMessage, error)

	// Pending lists the correlation ids still awaiting a response.
	Pending() []string

	// Flush forgets every outstanding call.
	Flush()

	// LocalAddr returns the bound address and port.
	LocalAddr() (string, int)
}
