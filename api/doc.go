/*
Package api defines the wire types shared by the recovery HTTP handlers
and their typed clients.

The recovery API exposes the emergency access workflow over HTTP:

 1. recoveryhandler - handlers for submitting, approving, cancelling, and
    executing recovery requests, plus the requester status view
 2. typed clients used by the recoveryctl command line tool

# Security Model

The API distinguishes three caller roles:

  - Requesters submit and cancel. Submission returns a single-use cancel
    token; the service stores only its hash, so the token authenticates
    the cancel call without any account credential.
  - Administrators approve and execute. These endpoints require a
    per-request ECDSA signature over the URL path and body, verified by
    httpserver.AdminAuth against registered public keys.
  - The status endpoint returns a deliberately coarse view and only to
    the request's owner.

Key material appears on the wire exactly once, in the execute response,
base64 encoded. Transport encryption is terminated upstream of this
service.

# Error Mapping

Failures carry a JSON body with the error text and taxonomy category.
Status codes follow the category: state conflicts and idempotent repeat
outcomes map to 409, a sealed secret store to 423, dual control
violations to 403, unknown requests to 404, and store outages to 503.
*/
package api
