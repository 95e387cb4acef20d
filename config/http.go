package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the service (e.g., "https://tickets.example.com").
	// Used for generating absolute artifact URLs in status responses.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// MaxBodyBytes caps the size of a job submission request body.
	// Job specs are small JSON documents; the SVG itself is referenced by key.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxBodyBytes < 4096 {
		h.MaxBodyBytes = 4096
	}
}
