/*
Package event provides a type-safe pub/sub event system used to fan out
session, permission, comm, queue, channel, and schedule changes to SSE
streams and other in-process observers.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while maintaining direct-call semantics to preserve type information. It
provides both synchronous and asynchronous event publishing patterns.

# Event Types

  - session.created / session.updated / session.deleted: lifecycle changes
  - session.state_changed: a session's State transitioned
  - message.appended: a transcript record was appended to a session's log
  - permission.required / permission.resolved: the permission rendezvous
  - comm.sent: a comm was routed to its destination
  - queue.item_added / queue.item_updated: per-session queue changes
  - channel.updated: channel membership or metadata changed
  - schedule.fired / schedule.updated: scheduler activity

# Basic Usage

Publishing events:

	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: session},
	})

	event.PublishSync(event.Event{
		Type: event.SessionStateChanged,
		Data: event.SessionStateChangedData{SessionID: id, From: from, To: to},
	})

Subscribing:

	unsubscribe := event.Subscribe(event.SessionCreated, func(e event.Event) {
		data := e.Data.(event.SessionCreatedData)
		log.Info().Str("id", data.Info.ID).Msg("session created")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers run synchronously in the publisher's
goroutine. Subscribers must complete quickly, use non-blocking channel
sends, and never call Publish/PublishSync re-entrantly.

# Testing

event.Reset() clears the global bus between tests; event.NewBus() creates
an isolated instance for tests that want to avoid global state entirely.
*/
package event
