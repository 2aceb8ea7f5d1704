package api

import (
	"net/http"

	"github.com/seenimoa/signalsim/internal/config"
)

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	ConfigFile string           `json:"config_file"` // empty when running on defaults
	Settings   []config.Setting `json:"settings"`
}

// handleGetConfig returns every effective setting with where it came from.
// The configuration is read-only while the server runs.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			ConfigFile: s.cfg.File(),
			Settings:   s.cfg.Settings(),
		},
	})
}
