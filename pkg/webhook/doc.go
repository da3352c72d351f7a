// Package webhook signs and verifies inbound webhook payloads.
//
// Gateways such as Razorpay send the hex encoded HMAC-SHA256 of the raw
// request body in a header. Verify recomputes it with the shared secret and
// compares in constant time:
//
//	body, _ := io.ReadAll(r.Body)
//	if err := webhook.Verify(secret, body, r.Header.Get("X-Razorpay-Signature")); err != nil {
//		// reject
//	}
//
// Sign produces the same value and is used by tests and local tooling to
// forge valid deliveries.
package webhook
