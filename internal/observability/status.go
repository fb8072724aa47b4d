package observability

import (
	"html/template"
	"net/http"
)

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>intratun status</title></head>
<body>
<h1>intratun relay</h1>
<p>{{.AgentCount}} agent(s) connected, {{.PendingCount}} pending rendezvous.</p>
<ul>
{{range .Agents}}<li>{{.ID}} — last heartbeat {{.LastHeartbeatAt}}{{if .Stale}} (stale){{end}}</li>{{end}}
</ul>
<p><a href="/api/agents">/api/agents</a> · <a href="/api/stats">/api/stats</a> · <a href="/metrics">/metrics</a></p>
</body>
</html>
`))

type statusPage struct {
	AgentCount   int
	PendingCount int
	Agents       []AgentSnapshot
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agents := s.provider.AgentSnapshots()
	page := statusPage{
		AgentCount:   len(agents),
		PendingCount: s.provider.PendingCount(),
		Agents:       agents,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, page); err != nil {
		s.logger.Warn("status template render failed", "error", err)
	}
}
