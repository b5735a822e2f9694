package events

import (
	"context"
	"errors"

	"archivist/internal/session"
	"archivist/pkg/logging"
)

// SessionSource is the part of the session manager Gate observes.
type SessionSource interface {
	State() session.State
	Watch(fn func(session.State)) func()
}

// Gate connects client whenever sess becomes authenticated and disconnects
// it when sess becomes unauthenticated. Connects run on their own goroutine
// so session transitions never wait on a handshake. The returned function
// stops gating; it does not disconnect.
func Gate(sess SessionSource, client *Client) func() {
	apply := func(s session.State) {
		switch s {
		case session.StateAuthenticated:
			go func() {
				if err := client.Connect(context.Background()); err != nil && !errors.Is(err, ErrNoAccessToken) {
					logging.Debug(subsystem, "Gate connect: %v", err)
				}
			}()
		case session.StateUnauthenticated:
			client.Disconnect()
		}
	}

	stop := sess.Watch(apply)
	if s := sess.State(); s == session.StateAuthenticated {
		apply(s)
	}
	return stop
}
