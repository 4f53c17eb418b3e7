// Package vision wraps the Google Vision REST API, turning a receipt image
// or PDF into normalized text for the completion step.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"amberscan/pkg/domain"
)

const defaultBaseURL = "https://vision.googleapis.com/v1"

// lineWidth fixes each reconstructed paragraph line to 41 columns. The
// padding approximates the original receipt's columnar layout, which keeps
// amounts aligned for the completion model.
const lineWidth = 41

// filesAnnotate handles at most 5 pages per request.
const pdfPageBatch = 5

// Client calls the Vision API over HTTPS.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client with the provided API key.
func NewClient(apiKey string, timeout time.Duration) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("vision api key required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetBaseURL overrides the API endpoint, used by tests and proxies.
func (c *Client) SetBaseURL(url string) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url != "" {
		c.baseURL = url
	}
}

// Extract runs OCR on an image file and reconstructs its text line by
// line. An empty return with nil error means the service found no text;
// callers must treat that as a terminal failure for the asset, not an
// empty success.
func (c *Client) Extract(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	reqBody := annotateRequest{
		Requests: []imageRequest{{
			Image:    imageContent{Content: base64.StdEncoding.EncodeToString(content)},
			Features: []feature{{Type: "TEXT_DETECTION"}},
		}},
	}
	var resp annotateResponse
	if err := c.doJSON(ctx, c.baseURL+"/images:annotate?key="+c.apiKey, reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("%w: vision api: %s", domain.ErrExternalService, r.Error.Message)
	}
	return layoutText(r.FullTextAnnotation), nil
}

// ExtractPDF extracts text from a PDF. The embedded text layer is used
// when present; scanned PDFs without one fall back to Vision document OCR,
// batched five pages per request and fetched concurrently.
func (c *Client) ExtractPDF(ctx context.Context, path string) (string, error) {
	text, pageCount, err := pdfTextLayer(path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	return c.ocrPDF(ctx, path, pageCount)
}

func pdfTextLayer(path string) (string, int, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	totalPages := reader.NumPage()
	var b strings.Builder
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages; OCR fallback covers fully scanned docs
			continue
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), totalPages, nil
}

func (c *Client) ocrPDF(ctx context.Context, path string, pageCount int) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if pageCount <= 0 {
		pageCount = 1
	}
	encoded := base64.StdEncoding.EncodeToString(content)

	type batchResult struct {
		start int
		text  string
	}
	var mu sync.Mutex
	var results []batchResult

	g, gctx := errgroup.WithContext(ctx)
	for start := 1; start <= pageCount; start += pdfPageBatch {
		pages := make([]int, 0, pdfPageBatch)
		for p := start; p <= pageCount && p < start+pdfPageBatch; p++ {
			pages = append(pages, p)
		}
		batchStart := start
		g.Go(func() error {
			text, err := c.annotatePDFPages(gctx, encoded, pages)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, batchResult{start: batchStart, text: text})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].start < results[j].start })
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.text)
	}
	return b.String(), nil
}

func (c *Client) annotatePDFPages(ctx context.Context, encodedPDF string, pages []int) (string, error) {
	reqBody := fileAnnotateRequest{
		Requests: []fileRequest{{
			InputConfig: inputConfig{MimeType: "application/pdf", Content: encodedPDF},
			Features:    []feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
			Pages:       pages,
		}},
	}
	var resp fileAnnotateResponse
	if err := c.doJSON(ctx, c.baseURL+"/files:annotate?key="+c.apiKey, reqBody, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, fr := range resp.Responses {
		for _, r := range fr.Responses {
			if r.Error != nil && r.Error.Message != "" {
				return "", fmt.Errorf("%w: vision api: %s", domain.ErrExternalService, r.Error.Message)
			}
			b.WriteString(layoutText(r.FullTextAnnotation))
		}
	}
	return b.String(), nil
}

// layoutText walks the page→block→paragraph→word→symbol hierarchy, joins
// the words of each paragraph with single spaces, and fixes every line to
// lineWidth columns.
func layoutText(annotation *textAnnotation) string {
	if annotation == nil {
		return ""
	}
	var b strings.Builder
	wrote := false
	for _, page := range annotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				words := make([]string, 0, len(paragraph.Words))
				for _, word := range paragraph.Words {
					var wb strings.Builder
					for _, symbol := range word.Symbols {
						wb.WriteString(symbol.Text)
					}
					words = append(words, wb.String())
				}
				line := strings.Join(words, " ")
				// truncate by runes so a multi-byte symbol on the
				// boundary is dropped whole, not split mid-encoding
				if runes := []rune(line); len(runes) > lineWidth {
					line = string(runes[:lineWidth])
				}
				if !wrote {
					b.WriteString("\n")
					wrote = true
				}
				b.WriteString(fmt.Sprintf("%-*s\n", lineWidth, line))
			}
		}
	}
	return b.String()
}

func (c *Client) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: vision request: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("%w: vision api: %s", domain.ErrExternalService, errResp.Error.Message)
		}
		return fmt.Errorf("%w: vision api: %s", domain.ErrExternalService, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: vision decode: %v", domain.ErrExternalService, err)
	}
	return nil
}

// Vision API request/response types.

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []visionResponse `json:"responses"`
}

type visionResponse struct {
	FullTextAnnotation *textAnnotation `json:"fullTextAnnotation"`
	Error              *visionError    `json:"error"`
}

type visionError struct {
	Message string `json:"message"`
}

type textAnnotation struct {
	Pages []struct {
		Blocks []struct {
			Paragraphs []struct {
				Words []struct {
					Symbols []struct {
						Text string `json:"text"`
					} `json:"symbols"`
				} `json:"words"`
			} `json:"paragraphs"`
		} `json:"blocks"`
	} `json:"pages"`
}

type fileAnnotateRequest struct {
	Requests []fileRequest `json:"requests"`
}

type fileRequest struct {
	InputConfig inputConfig `json:"inputConfig"`
	Features    []feature   `json:"features"`
	Pages       []int       `json:"pages,omitempty"`
}

type inputConfig struct {
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

type fileAnnotateResponse struct {
	Responses []struct {
		Responses []visionResponse `json:"responses"`
	} `json:"responses"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
