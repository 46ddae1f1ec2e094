// Package recoveryhandler implements the HTTP server and client for the
// KEK recovery workflow.
//
// This package exposes the recovery request lifecycle over the wire types
// defined in the api package. Requesters submit and cancel requests and
// poll a coarse status view; administrators approve and execute requests
// through endpoints guarded by the ECDSA signature middleware in the
// httpserver package.
//
// Key components:
//   - Handler: Serves the recovery endpoints and maps workflow errors to
//     HTTP status codes by failure category
//   - Client: Typed client for the recovery API, signing admin calls with
//     a private key when one is configured
//
// The handler enforces the workflow's control points at the HTTP layer:
//  1. Submission returns the single-use cancel token exactly once
//  2. Approval and execution carry a verified administrator identity,
//     never one claimed in a request body
//  3. Execution is the only response that carries key material
//  4. Status is scoped to the requesting user and reveals no admin detail
package recoveryhandler
