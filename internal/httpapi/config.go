package httpapi

// maxBodyBytes controls the maximum allowed request body size for uploads.
// Default is 32 MiB, enough for a full-resolution microscopy image.
var maxBodyBytes int64 = 32 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 32 << 20
		return
	}
	maxBodyBytes = n
}

// predictTimeout controls the maximum duration a /predict request may run
// before timing out. Zero means no additional timeout beyond server/connection
// timeouts.
var predictTimeout = int64(0) // seconds

// SetPredictTimeoutSeconds sets the predict timeout in seconds (0 disables).
func SetPredictTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	predictTimeout = sec
}

// staticDir, when set, is served at / for the browser frontend.
var staticDir string

// SetStaticDir configures the frontend directory ("" disables).
func SetStaticDir(dir string) { staticDir = dir }

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server. Empty method
// and header lists fall back to GET/POST/OPTIONS and Content-Type/X-Log-Level.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
