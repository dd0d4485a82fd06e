package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predictd/internal/handler"
	"predictd/internal/registry"
	"predictd/pkg/types"
)

// Service defines the methods required by the HTTP API layer. It is
// satisfied by *registry.Registry.
type Service interface {
	// Get resolves a model and makes it the active one, evicting the previous.
	Get(name string) (handler.Handler, error)
	Unload(name string) (bool, error)
	Snapshot() []types.ModelStatus
	Status() types.StatusResponse
	Ready() bool
	Subscribe(buf int) (<-chan registry.Event, func())
}

var _ Service = (*registry.Registry)(nil)

// NewMux builds the HTTP API over svc.
func NewMux(svc Service, opts ...Option) http.Handler {
	o := muxOptions{base: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		// Compression for JSON endpoints
		r.Use(middleware.Compress(5))
		r.Get("/models", modelsHandler(svc))
		r.Get("/status", statusHandler(svc))
		r.Post("/predict/{model}", predictHandler(svc, o.base))
		r.Post("/unload/{model}", unloadHandler(svc))
	})

	r.Get("/events", eventsHandler(svc, o.base))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	if staticDir != "" {
		fs := http.FileServer(http.Dir(staticDir))
		r.Handle("/static/*", http.StripPrefix("/static", fs))
		r.Handle("/*", fs)
	}

	return r
}

func corsOptions() cors.Options {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
	}
	return cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}
}

// modelsHandler godoc
// @Summary      List models
// @Description  Returns every registered model keyed by name with its load state.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func modelsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := types.ModelsResponse{}
		for _, m := range svc.Snapshot() {
			out[m.Name] = m
		}
		writeJSON(w, out)
	}
}

// statusHandler godoc
// @Summary      Registry status
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func statusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	}
}

// unloadHandler godoc
// @Summary      Unload a model
// @Description  Releases the model's runtime. Unloading an unloaded model succeeds.
// @Tags         models
// @Produce      json
// @Param        model  path  string  true  "Model name"
// @Success      200  {object}  types.UnloadResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /unload/{model} [post]
func unloadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "model")
		wasLoaded, err := svc.Unload(name)
		if err != nil {
			status, kind := statusFor(err)
			writeJSONErrorKind(w, status, err.Error(), kind)
			return
		}
		msg := "Model " + name + " unloaded"
		if !wasLoaded {
			msg = "Model " + name + " was not loaded"
		}
		if e := reqEvent(r, requestLogLevel(r), LevelInfo); e != nil {
			e.Str("model", name).Bool("was_loaded", wasLoaded).Msg("unload")
		}
		writeJSON(w, types.UnloadResponse{Status: "success", Message: msg})
	}
}

func isMultipart(ct string) bool {
	return strings.HasPrefix(strings.ToLower(ct), "multipart/form-data")
}
