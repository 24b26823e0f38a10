package notify

import (
	"html/template"

	"ordergate/pkg/domain"
)

type bodyData struct {
	Report      domain.Report
	Status      string
	StatusColor string
	Customer    string
	Issues      []domain.Issue
	OrderURL    string
}

func statusColor(s domain.Status) string {
	switch s {
	case domain.StatusPassed:
		return "#28a745"
	case domain.StatusWarning:
		return "#ffc107"
	case domain.StatusFailed:
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

var bodyTemplate = template.Must(template.New("body").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"severityColor": func(s domain.Severity) string {
		if s == domain.SeverityWarning {
			return "#ffc107"
		}
		return "#dc3545"
	},
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background-color: {{.StatusColor}}; color: white; padding: 20px; text-align: center;">
    <h1>InFlow Order Validation {{.Status}}</h1>
  </div>
  <div style="padding: 20px; border: 1px solid #dee2e6;">
    <div style="background-color: #e9ecef; padding: 15px; margin-bottom: 20px;">
      <strong>Order Number:</strong> {{.Report.OrderNumber}}<br>
      <strong>Order ID:</strong> {{.Report.OrderID}}<br>
      <strong>Customer:</strong> {{.Customer}}<br>
      <strong>Status:</strong> <span style="color: {{.StatusColor}}; font-weight: bold;">{{.Status}}</span>
    </div>
    <h3>Validation Issues Detected:</h3>
    {{- range $i, $is := .Issues}}
    <div style="margin-bottom: 15px; padding: 10px; border-left: 4px solid {{severityColor $is.Severity}}; background-color: #f8f9fa;">
      <strong>Issue #{{inc $i}}: {{$is.Rule}}</strong><br>
      <span style="color: #6c757d;">{{$is.Message}}</span>
    </div>
    {{- end}}
    {{- with .Report.SuggestedFixes}}
    <h3>Suggested Fixes:</h3>
    <ul>{{range .}}<li>{{.}}</li>{{end}}</ul>
    {{- end}}
    {{- with .Report.ResolvedIssues}}
    <h3>Resolved Since Last Check:</h3>
    <ul>{{range .}}<li>{{.Rule}}: {{.Message}}</li>{{end}}</ul>
    {{- end}}
    <p style="text-align: center; margin: 30px 0;"><a href="{{.OrderURL}}">Open Order in InFlow</a></p>
    <p style="color: #6c757d;">Please review the order and make the necessary corrections.</p>
  </div>
  <div style="margin-top: 20px; font-size: 12px; color: #6c757d; text-align: center;">
    This is an automated message from the order validation gate.<br>
    Timestamp: {{.Report.Timestamp.Format "2006-01-02T15:04:05Z07:00"}}
  </div>
</div>
</body>
</html>
`))
