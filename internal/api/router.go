package api

import "net/http"

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Commands      *CommandHandlers
	DeviceWS      http.HandlerFunc
	WSBasePath    string
	HealthHandler http.HandlerFunc
	JWTSecret     string
}

// NewRouter wires HTTP routes. An empty JWTSecret leaves the command API open,
// which is only meant for local development.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))
	mux.HandleFunc(deps.WSBasePath, deps.DeviceWS)

	protect := func(handler http.Handler) http.Handler {
		if deps.JWTSecret == "" {
			return handler
		}
		return BearerAuth(deps.JWTSecret)(handler)
	}

	mux.Handle("/api/commands/start", protect(method(http.MethodPost, http.HandlerFunc(deps.Commands.Start))))
	mux.Handle("/api/commands/stop", protect(method(http.MethodPost, http.HandlerFunc(deps.Commands.Stop))))
	mux.Handle("/api/devices", protect(method(http.MethodGet, http.HandlerFunc(deps.Commands.Devices))))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
