package templates

import (
	"bytes"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

const dateLayout = "2006-01-02"

// Data holds the values available to a body template as {{ .company_name }},
// {{ .recipient }}, {{ .subject }}, {{ .date }} and {{ .file_path }}.
type Data struct {
	CompanyName string
	Recipient   string
	Subject     string
	FilePath    string
	Date        time.Time
}

func (d Data) values() map[string]string {
	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	return map[string]string{
		"company_name": d.CompanyName,
		"recipient":    d.Recipient,
		"subject":      d.Subject,
		"date":         date.Format(dateLayout),
		"file_path":    d.FilePath,
	}
}

func Render(body string, data Data) (string, error) {
	tmpl, err := template.New("body").
		Funcs(sprig.HtmlFuncMap()).
		Option("missingkey=zero").
		Parse(body)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data.values()); err != nil {
		return "", err
	}
	return buf.String(), nil
}
