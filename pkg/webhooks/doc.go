// Package webhooks receives signed third-party callbacks and republishes
// them on the broadcast channel.
//
// Three authentication schemes are supported, chosen from the configured
// secret:
//
//   - X-Webhook-Secret: the shared secret itself, compared in constant time
//   - X-Webhook-Signature: "sha256=" + hex(HMAC-SHA256(secret, body))
//   - Svix headers (svix-id, svix-timestamp, svix-signature) when the
//     secret starts with "whsec_"
//
// Accepted bodies must be JSON objects that fit a single PostgreSQL
// notification. They are published as "webhook.received" events on the
// channel named in the URL:
//
//	verifier, err := webhooks.NewVerifier(cfg.Webhook.Secret)
//	receiver := webhooks.NewReceiver(verifier, relay, cfg.Webhook.MaxBodyBytes, metrics)
//	receiver.RegisterRoutes(router)
//
// Sending side:
//
//	req.Header.Set(webhooks.SignatureHeader, webhooks.Sign(body, secret))
package webhooks
