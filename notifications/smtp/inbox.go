package smtp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// FindEmail looks up the last message sent to the given address in the inbox
// API of a MailHog server listening on SMTPServer:TestAPIPort. The raw body
// of the message is returned and the inbox emptied. io.EOF means no message
// was found. Only meant for tests.
func (se *Email) FindEmail(ctx context.Context, to string) (string, error) {
	base := fmt.Sprintf("http://%s:%d", se.config.SMTPServer, se.config.TestAPIPort)
	query := url.Values{"kind": {"to"}, "query": {to}}

	var found struct {
		Items []struct {
			Content struct {
				Body string `json:"Body"`
			} `json:"Content"`
		} `json:"items"`
	}
	if err := inboxRequest(ctx, http.MethodGet, base+"/api/v2/search?"+query.Encode(), &found); err != nil {
		return "", err
	}
	if len(found.Items) == 0 {
		return "", io.EOF
	}
	body := found.Items[0].Content.Body
	return body, inboxRequest(ctx, http.MethodDelete, base+"/api/v1/messages", nil)
}

func inboxRequest(ctx context.Context, method, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %v", err)
	}
	return nil
}
