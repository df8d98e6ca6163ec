package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"leasecore/internal/domain"
)

const defaultAfricasTalkingURL = "https://api.africastalking.com/version1/messaging"

// AfricasTalkingNotifier sends SMS through the Africa's Talking messaging
// API. Email is not part of the gateway; SendEmail falls back to the log
// notifier so a single Notifier covers both channels.
type AfricasTalkingNotifier struct {
	apiURL    string
	username  string
	apiKey    string
	shortcode string
	httpDo    func(*http.Request) (*http.Response, error)
	fallback  domain.Notifier
}

type AfricasTalkingConfig struct {
	APIURL     string
	Username   string
	APIKey     string
	Shortcode  string
	HTTPClient *http.Client
}

func NewAfricasTalkingNotifier(cfg AfricasTalkingConfig) (domain.Notifier, error) {
	if cfg.Username == "" || cfg.APIKey == "" {
		return nil, errors.New("africastalking username and api key are required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAfricasTalkingURL
	}
	doer := http.DefaultClient.Do
	if cfg.HTTPClient != nil {
		doer = cfg.HTTPClient.Do
	}
	return &AfricasTalkingNotifier{
		apiURL:    strings.TrimRight(apiURL, "/"),
		username:  cfg.Username,
		apiKey:    cfg.APIKey,
		shortcode: cfg.Shortcode,
		httpDo:    doer,
		fallback:  NewLogNotifier(),
	}, nil
}

type messagingResponse struct {
	SMSMessageData struct {
		Recipients []struct {
			Status    string `json:"status"`
			MessageID string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (n *AfricasTalkingNotifier) SendSMS(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("username", n.username)
	form.Set("to", phone)
	form.Set("message", message)
	if n.shortcode != "" {
		form.Set("from", n.shortcode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("apiKey", n.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpDo(req)
	if err != nil {
		return fmt.Errorf("africastalking request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("africastalking response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("africastalking status %d", resp.StatusCode)
	}

	var parsed messagingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("africastalking decode: %w", err)
	}
	if len(parsed.SMSMessageData.Recipients) == 0 {
		return errors.New("africastalking rejected recipient")
	}
	if status := parsed.SMSMessageData.Recipients[0].Status; status != "Success" {
		return fmt.Errorf("africastalking delivery status %q", status)
	}
	return nil
}

func (n *AfricasTalkingNotifier) SendEmail(ctx context.Context, address, subject, body string) error {
	return n.fallback.SendEmail(ctx, address, subject, body)
}
