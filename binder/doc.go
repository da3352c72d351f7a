// Package binder turns HTTP requests into typed request structs for
// handler.Wrap. Each binder reads one source: BindJSON the body, BindQuery
// the query string and Path the router's path parameters. Binders that do
// not apply to a request return ErrBinderNotApplicable and are skipped.
package binder
