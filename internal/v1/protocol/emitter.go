package protocol

import "context"

// Emitter is "emit to socket id S": the one opaque surface every domain
// component uses to reach a client, regardless of which replica currently
// holds that socket's connection. The ws package's Hub is the concrete
// implementation; it delivers locally when the socket is on this replica
// and falls back to the Redis fan-out otherwise.
type Emitter interface {
	Emit(ctx context.Context, socketID, event string, payload any) error
}
