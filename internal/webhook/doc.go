// Package webhook implements the deploy notification endpoint with HMAC-SHA256
// verification.
//
// The hosting platform (Netlify) calls the endpoint on every deploy lifecycle
// event. Each call carries a hex HMAC-SHA256 of the raw body in the signature
// header and the event name in the event header.
//
// # Security Model
//
//   - The secret is injected at construction; an empty secret fails closed (500)
//   - HMAC-SHA256 signatures verified using crypto/subtle (constant-time comparison)
//   - The raw body is verified byte-for-byte before any JSON decoding
//   - Body size limits enforced to prevent DoS attacks
//   - No digest, secret or parser detail leaked in error responses
//   - Request logging excludes payloads and signatures
//
// # Configuration
//
// The webhook is configured in config.yaml:
//
//	webhook:
//	  listen: "127.0.0.1:8081"
//	  path: /api/webhooks/netlify
//	  secret: ${NETLIFY_WEBHOOK_SECRET}
//	  signature_header: X-Webhook-Signature
//	  event_header: X-Netlify-Event
//	  max_body_size: 1MB
//	  deploy_hooks: true
//
// # Request Flow
//
//  1. Secret checked (500 if not configured)
//  2. Signature and event headers required (400 if missing)
//  3. Body read (413 if larger than max_body_size)
//  4. HMAC-SHA256 verified (401 on mismatch)
//  5. Body decoded (400 on malformed JSON, generic message)
//  6. Event dispatched by type; unknown types are acknowledged
//  7. 200 OK with {success, message, timestamp}
//
// # Additional Routes
//
//   - GET <path>/status: liveness summary with recent deploys
//   - POST <path>/deploy-success, <path>/deploy-failure: unsigned
//     post-deploy hooks, enabled by deploy_hooks
package webhook
