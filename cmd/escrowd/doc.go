// Package main (cmd/escrowd) implements the survey key escrow service daemon.
//
// The daemon serves the recovery request API: requesters submit and cancel
// recovery requests for escrowed key encryption keys (KEKs), administrators
// approve and execute them under dual control, and every state change lands
// in the audit log before it takes effect for the caller.
//
// Key material is only ever released by the execute endpoint, and only when
// a request has passed two independent administrator approvals, the
// mandatory delay, and presentation of the custodian's master key component.
// The platform master key itself exists in memory only for the duration of
// a single execute call.
//
// The daemon wires together:
//
//   - a secret store backend selected by URI (HashiCorp Vault KV v2, local
//     file storage, or in-memory for development), wrapped with retry,
//     circuit breaking, and Prometheus instrumentation
//   - SQLite persistence for escrow records, recovery requests, and the
//     append-only audit log
//   - the recovery workflow engine and its background sweeper, which
//     advances delayed requests and expires stale ones
//   - notification delivery (email via SMTP, or structured log entries)
//   - optional periodic audit log archival to an S3 bucket
//
// Administrator identities are ECDSA P-256 public keys loaded from a JSON
// file at startup; approve and execute calls must be signed with the
// matching private keys.
//
// The server implements graceful shutdown on SIGINT/SIGTERM and exposes
// health checks, drain endpoints, Prometheus metrics, and optional
// profiling.
//
// Example usage:
//
//	escrowd --listen-addr=0.0.0.0:8080 \
//	    --store-uri=vault://vault.internal:8200/survey-kms \
//	    --admin-keys-file=./recovery-admins.json \
//	    --db-file=/var/lib/escrowd/escrow.db \
//	    --approval-delay=24h \
//	    --notify-email=security-team@example.com --smtp-host=mail.internal
package main
