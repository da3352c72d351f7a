// Package requestid assigns a correlation ID to every HTTP request.
//
// Middleware reuses a well-formed X-Request-ID header or generates a UUIDv7,
// stores it in the request context and echoes it in the response. The ID is
// available through FromContext, and LogExtractor wires it into the logger:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LogExtractor()))
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
package requestid
