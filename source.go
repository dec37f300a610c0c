package facttrace

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxSourceContentLen caps extracted source text so a huge article doesn't
// blow up prompts or responses.
const maxSourceContentLen = 20000

// FetchSourceContent downloads a page and extracts its readable text, so a
// source article can be used directly as the truth side of a verification.
func FetchSourceContent(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("unsupported URL scheme in %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "FactTrace/1.0 (Educational Project)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := &http.Client{
		Timeout: SourceTimeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Strip non-content elements before extracting text
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var paragraphs []string
	root.Find("p, h1, h2, h3, li").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	content := strings.Join(paragraphs, "\n\n")
	if content == "" {
		content = strings.TrimSpace(root.Text())
	}
	if content == "" {
		return "", fmt.Errorf("no readable content found at %s", url)
	}

	if len(content) > maxSourceContentLen {
		content = content[:maxSourceContentLen]
	}
	return content, nil
}
