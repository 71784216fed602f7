package smscmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender delivers outbound messages through the operator's HTTP SMS
// gateway. The gateway's own retry and delivery reporting are out of scope.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *HTTPSender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{
		"to":      to,
		"message": body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway unreachable. %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	return nil
}
