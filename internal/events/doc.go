// Package events maintains the archive's push event stream.
//
// A Client holds at most one websocket connection to the archive's
// /api/v1/ws endpoint, authenticated with the current access token. Inbound
// messages are decoded into Event values whose Payload is one of the typed
// payload structs, and dispatched to every handler registered for the event
// type in a Registry. Reserved ping messages are answered with a pong and
// never reach subscribers.
//
// When the connection drops unexpectedly the client reconnects with capped
// exponential backoff:
//
//	delay(k) = min(BaseDelay * 2^k, MaxDelay)   for attempt k = 1..MaxAttempts
//
// Reconnection is suppressed while no access token is available, and gives
// up after MaxAttempts until Connect is called again. Disconnect closes the
// socket but keeps every subscription, so a later Connect resumes delivery to
// the same handlers.
//
// Gate ties a Client to session state: it connects when the session becomes
// authenticated and disconnects on logout.
//
// # Usage
//
//	client, err := events.New(events.Config{Endpoint: api, Tokens: sess})
//	stop := client.Subscribe(events.TypeDocumentProcessed, func(ev events.Event) {
//		doc := ev.Payload.(events.DocumentPayload)
//		fmt.Println("processed", doc.DocumentID)
//	})
//	defer stop()
//	ungate := events.Gate(sess, client)
//	defer ungate()
package events
