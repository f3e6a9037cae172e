package server

import (
	"html/template"
	"net/http"
)

type pageData struct {
	ServerName string
	TableID    int
	Message    string
}

const pageHead = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{block "title" .}}Tableside{{end}}</title>
<link rel="manifest" href="/manifest.json">
</head>
<body>
{{block "body" .}}{{end}}
</body>
</html>`

var (
	sessionRequiredPage = mustPage(`{{define "title"}}Scan to order{{end}}
{{define "body"}}<main class="session-required">
<h1>Scan the QR code to start</h1>
<p>Please scan the QR code on your table to begin, or ask someone at your table to share their link.</p>
<ul>
<li><strong>How to use:</strong> open your camera and scan the QR code on the table.</li>
<li><strong>Order together:</strong> friends can scan the same code to order with you.</li>
</ul>
</main>{{end}}`)

	scanFailedPage = mustPage(`{{define "title"}}Could not join table{{end}}
{{define "body"}}<main class="scan-failed">
<h1>Something went wrong</h1>
<p>{{.Message}}</p>
<p><a href="/session-required">Back</a></p>
</main>{{end}}`)

	menuPage = mustPage(`{{define "title"}}{{.ServerName}} · Table {{.TableID}}{{end}}
{{define "body"}}<main id="app" data-table="{{.TableID}}" data-events="/api/events" data-menu="/api/menu">
<h1>Table {{.TableID}}</h1>
<noscript>The menu needs JavaScript enabled.</noscript>
</main>
<script src="/app.js" defer></script>{{end}}`)
)

func mustPage(body string) *template.Template {
	return template.Must(template.Must(template.New("page").Parse(pageHead)).Parse(body))
}

func (s *Server) renderPage(w http.ResponseWriter, status int, page *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := page.Execute(w, data); err != nil {
		s.logger.Warn().Err(err).Msg("⚠️ Failed to render page")
	}
}
