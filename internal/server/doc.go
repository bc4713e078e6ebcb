// Package server implements the mergeboard HTTP server.
//
// This package provides:
//   - Pipeline webhook endpoints for GitLab (token) and GitHub (HMAC signature)
//   - The live pipeline channel (server-sent events) fed by the status relay
//   - The manual stage trigger and the operator API for bulk merges
//   - Per-IP rate limiting, CORS for the browser UI and request logging
//
// The server integrates with other packages:
//   - internal/webhook: authentication, branch filtering and normalization
//   - internal/relay: latest pipeline status and subscriber fan-out
//   - internal/hosting: per-credential hosting clients
//   - internal/merge and internal/trigger: operator actions
//   - internal/audit: optional SQLite journal of operator actions
//
// Operator credentials are read from each request and never stored.
package server
