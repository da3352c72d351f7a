package binder

import (
	"fmt"
	"net/http"
)

// Path creates a path parameter binder using the router's extractor, for
// instance chi.URLParam. Fields are matched by the `path` struct tag and
// `path:"-"` skips a field.
//
//	type ConsumeRequest struct {
//		Resource string `path:"resource"`
//	}
//
//	r.Post("/usage/{resource}/consume", handler.Wrap(consume,
//		handler.WithBinders[handler.Context, ConsumeRequest](binder.Path(chi.URLParam)),
//	))
func Path(extractor func(r *http.Request, fieldName string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}

		rv, err := structOf(v, ErrInvalidPath)
		if err != nil {
			return err
		}
		rt := rv.Type()

		for i := range rv.NumField() {
			field := rv.Field(i)
			fieldType := rt.Field(i)
			if !field.CanSet() {
				continue
			}

			name, skip := parseFieldTag(fieldType, "path")
			if skip {
				continue
			}

			value := extractor(r, name)
			if value == "" {
				continue
			}
			if err := setFieldValue(field, fieldType.Type, []string{value}); err != nil {
				return fmt.Errorf("%w: field %s: %v", ErrInvalidPath, fieldType.Name, err)
			}
		}
		return nil
	}
}
