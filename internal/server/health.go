package server

import (
	"net/http"
)

type healthReport struct {
	Status   string            `json:"status"`
	Database string            `json:"database,omitempty"`
	KV       string            `json:"kv,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "lkgate",
		"version": s.deps.Version,
		"status":  "online",
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: "ok"}
	status := http.StatusOK

	if s.deps.DBPing != nil {
		if err := s.deps.DBPing(r.Context()); err != nil {
			report.Database = "unreachable"
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			report.Database = "ok"
		}
	}
	if s.deps.KVPing != nil {
		if err := s.deps.KVPing(r.Context()); err != nil {
			report.KV = "unreachable"
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			report.KV = "ok"
		}
	}
	if s.deps.Breakers != nil {
		states := s.deps.Breakers.States()
		if len(states) > 0 {
			report.Breakers = make(map[string]string, len(states))
			for name, st := range states {
				report.Breakers[name] = st.String()
			}
		}
	}

	writeJSON(w, status, report)
}
