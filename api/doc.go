// Package api exposes the entitlement service over HTTP.
//
// Every route under /v1 except the gateway webhooks requires an HS256 bearer
// token whose sub claim is the user id. Responses use the handler package
// JSON envelope; domain errors are mapped to status codes in errors.go.
//
//	POST /v1/usage/{resource}/consume   {"amount": 1}
//	POST /v1/usage/release              {"consumption": {...}}
//	GET  /v1/usage
//	GET  /v1/subscription
//	POST /v1/subscription/cancel        {"at_period_end": true}
//	GET  /v1/subscription/history
//	GET  /v1/subscription/payments
//	GET  /v1/plans
//	GET  /v1/plans/compare?from=&to=
//	POST /v1/webhooks/razorpay          X-Razorpay-Signature
//	POST /v1/webhooks/paddle            Paddle-Signature
//	GET  /healthz
//	GET  /metrics
//
// A denied consume answers 402 limit_exceeded or 422 invalid_amount with the
// decision in data. A check that could not reach its stores answers 503
// temporarily_unavailable without quota information.
package api
