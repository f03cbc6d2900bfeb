// Package httpapi serves the authentication protocol over JSON/HTTP with a
// chi router.
//
// Public routes: POST /login, /mfa/verify, /refresh, /logout and
// /password-reset/{request,verify,confirm}. Bearer-guarded routes:
// POST /mfa/setup, /mfa/setup/confirm, /mfa/disable, /mfa/recovery-codes,
// /logout-all and GET /me. Operational routes: GET /healthz and /metrics.
//
// Errors are {"error": "<code>"}. Credential and token failures answer 401,
// a locked account 423, bad codes and validation 400, store outages 503 and
// rate limiting 429. 423, 503 and 429 carry Retry-After.
//
// # What this package must NOT do
//
//   - Make authentication decisions; every decision comes from the Engine.
//   - Echo whether an email has an account.
package httpapi
