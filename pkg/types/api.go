package types

// PredictResponse is returned by POST /predict/{model}.
type PredictResponse struct {
	// example: success
	Status string `json:"status" example:"success"`
	// Model that served the request.
	// example: classification
	Model string `json:"model" example:"classification"`
	// Whether the model was resident after the request.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// Variant-specific result (class probabilities, mask, scores).
	Result any `json:"result"`
}

// ModelsResponse maps model name to its status for GET /models.
type ModelsResponse map[string]ModelStatus

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Registered models sorted by name.
	Models []ModelStatus `json:"models"`
	// Name of the active model, empty when none.
	// example: segmentation
	ActiveModel string `json:"active_model,omitempty" example:"segmentation"`
	// Total successful model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total failed model loads.
	// example: 0
	LoadFailuresTotal uint64 `json:"load_failures_total" example:"0"`
	// Total evictions caused by model switches.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// UnloadResponse is returned by POST /unload/{model}.
type UnloadResponse struct {
	// example: success
	Status string `json:"status" example:"success"`
	// example: Model classification unloaded
	Message string `json:"message" example:"Model classification unloaded"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: foo
	Error string `json:"error" example:"model not found: foo"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Error class (model_not_found, preprocessing, model_load, inference, postprocessing).
	// example: model_not_found
	Kind string `json:"kind,omitempty" example:"model_not_found"`
}
