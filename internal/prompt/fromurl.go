package prompt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const maxContextChars = 20000

// Fetcher pulls a strategy-description page and converts it to markdown
// so it can be appended to a prompt as reference context.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with a 30 second request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads the URL and returns its content as markdown,
// truncated to a size that keeps the combined prompt well under the
// token budget.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Stratforge/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	if len(md) > maxContextChars {
		md = md[:maxContextChars] + "\n\n[Content truncated]"
	}
	return md, nil
}

// Compose appends fetched reference context to a user prompt.
func Compose(userPrompt, refContext string) string {
	if refContext == "" {
		return userPrompt
	}
	return fmt.Sprintf("%s\n\nREFERENCE MATERIAL:\n%s", userPrompt, refContext)
}
