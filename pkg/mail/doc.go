// Package mail sends outbound email over SMTP and copies inbound mail from
// the provider API into the shared inbox.
//
// Outbound messages go through an Outbox, which delivers with an
// SMTPSender and stores the sent copy with direction "outbound". Inbound
// mail is pulled by a Poller, either on demand (manual sync) or on a cron
// schedule through a Scheduler:
//
//	poller := mail.NewPoller(mail.NewHTTPFetcher(url, token), store.Emails(), relay, mailboxes, metrics)
//	sched, err := mail.NewScheduler(poller, "*/5 * * * *", mail.CronLogger(logger))
//	go sched.Run(ctx)
//
// Each mailbox is polled from the newest inbound message already stored.
// Messages are deduplicated by provider id, and every new one is
// announced as an "inbox.received" broadcast event.
package mail
