// Package broadcast fans change events out to connected clients.
//
// Events are published through a Publisher. The Hub delivers them to
// in-process subscribers such as server-sent event streams; the PGRelay
// carries them between instances over PostgreSQL NOTIFY/LISTEN:
//
//	hub := broadcast.NewHub(metrics)
//	relay := broadcast.NewPGRelay(db, cfg.Database.ListenURL, hub)
//	go relay.Run(ctx)
//
//	evt, _ := broadcast.NewEvent(broadcast.ChannelInbox, broadcast.TypeInboxReceived, msg)
//	relay.Publish(ctx, evt)
package broadcast
