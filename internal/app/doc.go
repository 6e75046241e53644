// Package app provides the composition layer of the user service.
//
// # Architecture Role
//
// The app package builds every long-lived component exactly once and hands
// them to each other. It holds no business logic.
//
//	cmd/server/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/config      (settings, loaded once)
//	      ├──► internal/logging     (logrus logger)
//	      ├──► internal/database    (connection manager + mongo driver)
//	      ├──► internal/health      (classifier, probes, /health routes)
//	      ├──► internal/users       (repository, service, /api/v1/users routes)
//	      ├──► internal/middleware  (tracing, recovery, metrics, cors, auth, rate limit)
//	      └──► internal/httputil    (response envelope)
//
// # Lifecycle
//
// Run connects to the database, serves HTTP and blocks until the context is
// cancelled. Shutdown stops the listener and then closes the database
// connection on a best-effort basis. When the connection cannot be
// established in production, the process exits through the logger's Fatal
// hook.
package app
