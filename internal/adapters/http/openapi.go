package httpadapter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
)

//go:embed openapi.yaml
var openAPISpec []byte

// requestValidator checks request bodies and path parameters against the
// embedded OpenAPI document before handlers run.
type requestValidator struct {
	doc *openapi3.T
}

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return &requestValidator{doc: doc}, nil
}

// operation returns middleware validating requests to one documented
// path template. Undocumented methods pass through.
func (v *requestValidator) operation(pathTemplate string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pathItem := v.doc.Paths.Value(pathTemplate)
			if pathItem == nil {
				next.ServeHTTP(w, r)
				return
			}
			op := pathItem.GetOperation(r.Method)
			if op == nil {
				next.ServeHTTP(w, r)
				return
			}

			params := map[string]string{}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				for i, key := range rctx.URLParams.Keys {
					params[key] = rctx.URLParams.Values[i]
				}
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: params,
				Route: &routers.Route{
					Spec:      v.doc,
					Path:      pathTemplate,
					PathItem:  pathItem,
					Method:    r.Method,
					Operation: op,
				},
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				writeErrorMessage(w, r, http.StatusBadRequest, "INVALID_INPUT", validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("invalid parameter %q: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.Err != nil {
			return "invalid request body: " + reqErr.Err.Error()
		}
		return reqErr.Error()
	}
	return err.Error()
}
