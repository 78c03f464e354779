package signer

import (
	"bytes"
	"fmt"
	"html/template"
)

// FormField is one hidden input in the auto-post form.
type FormField struct {
	Name  string
	Value string
}

var autoPostTemplate = template.Must(template.New("autopost").Parse(`<!DOCTYPE html>
<html>
<head><title>Redirecting...</title></head>
<body onload="document.forms[0].submit()">
<noscript><p>JavaScript is disabled. Click the button below to continue.</p></noscript>
<form method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{- end}}
<noscript><input type="submit" value="Continue"/></noscript>
</form>
</body>
</html>
`))

// RenderAutoPostForm returns a self-submitting HTML form that posts the
// given fields to destinationURL. Field values are HTML-escaped by the
// template engine.
func RenderAutoPostForm(destinationURL string, fields []FormField) (string, error) {
	if destinationURL == "" {
		return "", fmt.Errorf("missing destination URL")
	}
	var buf bytes.Buffer
	err := autoPostTemplate.Execute(&buf, struct {
		Action string
		Fields []FormField
	}{Action: destinationURL, Fields: fields})
	if err != nil {
		return "", fmt.Errorf("failed to render form: %w", err)
	}
	return buf.String(), nil
}
