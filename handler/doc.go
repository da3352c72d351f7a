// Package handler provides typed HTTP handlers that render JSON envelopes.
//
// A HandlerFunc receives a request struct populated by binders and returns a
// Response. Wrap adapts it to http.HandlerFunc, running binders, decorators
// and the error handler:
//
//	type ConsumeRequest struct {
//		Resource string `path:"resource"`
//		Amount   *int64 `json:"amount"`
//	}
//
//	r.Post("/usage/{resource}/consume", handler.Wrap(consume,
//		handler.WithBinders[handler.Context, ConsumeRequest](
//			binder.Path(chi.URLParam),
//			binder.BindJSON(),
//		),
//		handler.WithErrorHandler[handler.Context, ConsumeRequest](handler.NewErrorHandler(log)),
//	))
//
// Every JSON response shares the envelope {"data", "meta", "error"}. Errors
// are classified into a status code and a stable code string: HTTPError
// carries both explicitly, ValidationError renders as 422 with per-field
// details, binder failures as 400, 413 or 415, and anything else as a 500
// without leaking the error text.
package handler
