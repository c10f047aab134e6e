package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"

	"github.com/joestump/congress-roster/internal/config"
	"github.com/joestump/congress-roster/internal/monitor"
)

const reportPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>rosterd: {{.State}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: .25rem .5rem; text-align: left; }
.state { font-weight: bold; }
.FRESH { color: #1a7f37; } .STALE { color: #9a6700; } .OUTDATED { color: #bc4c00; } .CRITICAL { color: #cf222e; }
footer { margin-top: 2rem; color: #666; font-size: .85rem; }
</style>
</head>
<body>
<p class="state {{.State}}">{{.State}}</p>
{{.Body}}
<footer>rosterd {{.Version}}</footer>
</body>
</html>
`

// handleReport renders the latest health report. ?format=md returns the raw
// Markdown.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Latest(r.Context())
	if err != nil {
		s.logger.Error("load health report", "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if rep == nil {
		http.Error(w, "no health report yet", http.StatusServiceUnavailable)
		return
	}

	md := rep.Markdown()
	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(md))
		return
	}

	var body bytes.Buffer
	if err := s.md.Convert([]byte(md), &body); err != nil {
		s.logger.Error("render health report", "error", err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}

	data := struct {
		State   monitor.State
		Body    template.HTML
		Version string
	}{rep.State, template.HTML(body.String()), config.Version}

	var page bytes.Buffer
	if err := s.page.Execute(&page, data); err != nil {
		s.logger.Error("render report page", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page.Bytes())
}

// handleRunStream streams a refresh run's progress lines as server-sent
// events. Lines published before the client connected are replayed first.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	_, _ = fmt.Fprintf(w, "retry: 30000\n\n")
	flusher.Flush()

	if s.hub == nil {
		_, _ = fmt.Fprintf(w, "data: [run %s] progress stream not connected\n\n", id)
		flusher.Flush()
		return
	}

	ch, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-ch:
			if !ok {
				_, _ = fmt.Fprintf(w, "event: done\ndata: run complete\n\n")
				flusher.Flush()
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}
