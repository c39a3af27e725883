// Package server exposes the HTTP API: huma on chi, with a shared error
// envelope and an auth middleware resolving the session token.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"tutelliv/internal/config"
	"tutelliv/internal/domain"
	"tutelliv/internal/engine"
	"tutelliv/internal/estimate"
	"tutelliv/internal/pdf"
	"tutelliv/internal/store"
	"tutelliv/internal/token"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      *engine.Engine
	Tokens      token.Service
	Users       *config.Config
	BasePath    string
	CORSOrigins []string
	Log         zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"mission not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// handleError maps domain errors onto the envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var verr engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "validation_error", verr.Reason, nil)
	}
	var aerr engine.AuthorizationError
	if errors.As(err, &aerr) {
		return newAPIError(http.StatusForbidden, "forbidden", aerr.Reason, nil)
	}
	var cerr engine.ConflictError
	if errors.As(err, &cerr) {
		return newAPIError(http.StatusConflict, "conflict", cerr.Reason, nil)
	}
	if errors.Is(err, token.ErrUnauthenticated) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, store.ErrDuplicate) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

// New returns the HTTP handler for the whole API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Engine.Journal == nil {
		return nil, errors.New("server: engine journal is required")
	}
	if cfg.Engine.Bus == nil {
		return nil, errors.New("server: engine bus is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures surface as plain 400s.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(cfg.Log))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler)
	}
	router.Use(newAuthMiddleware(basePath, cfg.Tokens))

	hcfg := huma.DefaultConfig("TutelLiv API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)

	var group huma.API = api
	if basePath != "/" {
		group = huma.NewGroup(api, basePath)
	}

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Users, cfg.Tokens)
	registerBeneficiaries(group, cfg.Engine)
	registerMissions(group, cfg.Engine)
	registerInvoices(group, cfg.Engine)
	registerEstimate(group)
	registerStats(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerEventStream(router, basePath, cfg.Engine, cfg.Log)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var doc []byte
	docPath := path.Join("/", basePath, "openapi.json")
	r.Get(docPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			doc, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func swaggerHTML(basePath string) string {
	docURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>TutelLiv API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, docURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerBeneficiaries(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-beneficiary",
		Method:        http.MethodPost,
		Path:          "/beneficiaries",
		Summary:       "Create beneficiary",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body BeneficiaryRequest `json:"body"`
	}) (*struct {
		Body domain.Beneficiary `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ID <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "id must be positive", nil)
		}
		if input.Body.FirstName == "" || input.Body.LastName == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "first_name and last_name are required", nil)
		}
		b := input.Body.toDomain(input.Body.ID)
		if err := e.Beneficiaries.Create(b); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Beneficiary `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-beneficiaries",
		Method:      http.MethodGet,
		Path:        "/beneficiaries",
		Summary:     "List beneficiaries",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Beneficiary `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []domain.Beneficiary `json:"body"`
		}{Body: e.Beneficiaries.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-beneficiary",
		Method:      http.MethodGet,
		Path:        "/beneficiaries/{id}",
		Summary:     "Get beneficiary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int `path:"id"`
	}) (*struct {
		Body domain.Beneficiary `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		b, err := e.Beneficiaries.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Beneficiary `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-beneficiary",
		Method:      http.MethodPut,
		Path:        "/beneficiaries/{id}",
		Summary:     "Replace beneficiary",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int                `path:"id"`
		Body BeneficiaryRequest `json:"body"`
	}) (*struct {
		Body domain.Beneficiary `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.FirstName == "" || input.Body.LastName == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "first_name and last_name are required", nil)
		}
		b := input.Body.toDomain(input.ID)
		if err := e.Beneficiaries.Replace(input.ID, b); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Beneficiary `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-beneficiary",
		Method:        http.MethodDelete,
		Path:          "/beneficiaries/{id}",
		Summary:       "Delete beneficiary",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Beneficiaries.Delete(input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMissions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Create mission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body MissionRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMission(ctx, caller, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Mission `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []domain.Mission `json:"body"`
		}{Body: e.ListMissions()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMission(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-mission",
		Method:      http.MethodPut,
		Path:        "/missions/{id}",
		Summary:     "Update mission",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MissionRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateMission(ctx, caller, input.ID, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-mission",
		Method:        http.MethodDelete,
		Path:          "/missions/{id}",
		Summary:       "Delete mission and its invoice",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteMission(ctx, caller, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerInvoices(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invoice",
		Method:        http.MethodPost,
		Path:          "/invoices",
		Summary:       "Create invoice",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body InvoiceCreateRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.CreateInvoice(ctx, caller, engine.InvoiceCreateOptions{
			MissionID:       input.Body.MissionID,
			Amount:          input.Body.Amount,
			Status:          input.Body.Status,
			Note:            input.Body.Note,
			LinesByCategory: input.Body.LinesByCategory,
			DeliveryFee:     input.Body.DeliveryFee,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/invoices",
		Summary:     "List invoices",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Invoice `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []domain.Invoice `json:"body"`
		}{Body: e.Invoices.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/invoices/{id}",
		Summary:     "Get invoice",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		inv, err := e.Invoices.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-invoice",
		Method:      http.MethodPut,
		Path:        "/invoices/{id}",
		Summary:     "Update invoice",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body InvoiceUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.UpdateInvoice(ctx, caller, input.ID, engine.InvoiceUpdateOptions{
			Amount:          input.Body.Amount,
			Status:          input.Body.Status,
			Note:            input.Body.Note,
			LinesByCategory: input.Body.LinesByCategory,
			DeliveryFee:     input.Body.DeliveryFee,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-invoice",
		Method:        http.MethodDelete,
		Path:          "/invoices/{id}",
		Summary:       "Delete invoice",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteInvoice(ctx, caller, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invoice-pdf",
		Method:      http.MethodGet,
		Path:        "/invoices/{id}/pdf",
		Summary:     "Download invoice as PDF",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*huma.StreamResponse, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		data, err := e.RenderInvoicePDF(input.ID, pdf.Render)
		if err != nil {
			return nil, handleError(err)
		}
		filename := fmt.Sprintf("facture_%s.pdf", input.ID)
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/pdf")
				ctx.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
				ctx.BodyWriter().Write(data)
			},
		}, nil
	})
}

func registerEstimate(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "estimate",
		Method:      http.MethodPost,
		Path:        "/estimate",
		Summary:     "Price estimate for a basket",
	}, func(ctx context.Context, input *struct {
		Body EstimateRequest `json:"body"`
	}) (*struct {
		Body estimate.Breakdown `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body estimate.Breakdown `json:"body"`
		}{Body: estimate.Calculate(input.Body.Items)}, nil
	})
}

func registerStats(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: e.Stats()}, nil
	})
}
