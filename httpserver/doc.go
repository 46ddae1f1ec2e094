/*
Package httpserver hosts the recovery API for the survey key escrow
service.

It provides the HTTP server lifecycle (startup, draining, graceful
shutdown), health and diagnostics endpoints, request logging, and the
administrator signature authentication used by approval and execution
endpoints. The domain routes themselves are mounted by handlers
implementing RouteRegistrar, such as the recovery handler in
api/recoveryhandler.

Main features:

  - Server lifecycle with load-balancer aware draining
  - Liveness and readiness endpoints backed by an atomic flag
  - Administrator authentication with per-request ECDSA signatures
  - Optional pprof endpoint for debugging
  - Metrics server run alongside the API listener

# Admin authentication

Administrators hold ECDSA P-256 keypairs. Requests to protected endpoints
carry the admin's ID and a base64 signature over the URL path plus body in
the X-Admin-ID and X-Admin-Signature headers. AdminAuth verifies the
signature against the registered public key and stores the admin identity
on the request context, where handlers read it with AdminFrom. The
signature covers the request content, so headers captured from one request
cannot authorize another.

Endpoints provided by the server itself:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

Example usage:

	auth := httpserver.NewAdminAuth(logger, adminKeys)
	handler := recoveryhandler.NewHandler(engine, auth, logger)

	config := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	server := httpserver.New(config, m, handler)
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
