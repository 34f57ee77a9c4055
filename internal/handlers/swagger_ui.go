package handlers

import (
	"html/template"
	"net/http"
)

const swaggerUIVersion = "5.10.0"

var swaggerPage = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@{{.Version}}/swagger-ui.css">
</head>
<body style="margin:0">
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@{{.Version}}/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: "#swagger-ui",
                deepLinking: true
            });
        };
    </script>
</body>
</html>`))

// SwaggerUI serves an interactive page over the OpenAPI description
func SwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	swaggerPage.Execute(w, struct {
		Title   string
		Version string
		SpecURL string
	}{
		Title:   "Census Atlas API",
		Version: swaggerUIVersion,
		SpecURL: "/api/docs/openapi.json",
	})
}
