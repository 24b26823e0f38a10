package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "https://graph.microsoft.com/.default"
)

// GraphConfig holds Microsoft Graph application credentials.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	FromAddress  string
	// BaseURL and TokenURL override the public endpoints (tests, sovereign clouds).
	BaseURL  string
	TokenURL string
}

// GraphMailer sends mail through Microsoft Graph using the client-credentials flow.
type GraphMailer struct {
	client  *http.Client
	baseURL string
	from    string
}

// NewGraphMailer builds a mailer whose HTTP client fetches and refreshes tokens on demand.
// Token fetches outlive ctx cancellation so a send started before shutdown can finish.
func NewGraphMailer(ctx context.Context, cfg GraphConfig) (*GraphMailer, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.FromAddress == "" {
		return nil, fmt.Errorf("graph mailer: client_id, client_secret and from_address are required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.TenantID == "" {
			return nil, fmt.Errorf("graph mailer: tenant_id is required")
		}
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	}
	base := cfg.BaseURL
	if base == "" {
		base = graphBaseURL
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	return &GraphMailer{client: cc.Client(context.WithoutCancel(ctx)), baseURL: strings.TrimRight(base, "/"), from: cfg.FromAddress}, nil
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphSendMail struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []graphRecipient `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

// Send posts the message to /users/{from}/sendMail. Any non-2xx status is an error.
func (g *GraphMailer) Send(ctx context.Context, msg Message) error {
	var payload graphSendMail
	payload.Message.Subject = msg.Subject
	payload.Message.Body.ContentType = "HTML"
	payload.Message.Body.Content = msg.HTMLBody
	for _, to := range msg.To {
		var r graphRecipient
		r.EmailAddress.Address = to
		payload.Message.ToRecipients = append(payload.Message.ToRecipients, r)
	}
	payload.SaveToSentItems = true
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(g.from))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph sendMail: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph sendMail: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
