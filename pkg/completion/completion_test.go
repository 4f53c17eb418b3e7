package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"amberscan/pkg/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "test-key", "test-model", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func chatReply(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{"content": content},
		}},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestCompleteDecodesExtraction(t *testing.T) {
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatReply(`{
			"company_details": {"name": "Fuel Stop", "vat_number": "IE1234567A"},
			"items": [{"description": "Diesel", "gross_price": 80.64, "vat_rate": 23, "vat_amount": 15.08, "net_amount": 65.56, "tax_deductible": true}],
			"fuel_type": "Diesel",
			"is_invoice": false,
			"totals": {"total_gross": 80.64, "total_vat": 15.08, "total_net": 65.56}
		}`)))
	})

	extraction, err := c.Complete(context.Background(), "TOTAL 80.64")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotReq.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", gotReq.Temperature)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", gotReq.ResponseFormat)
	}
	if len(gotReq.Messages) != 2 || !strings.Contains(gotReq.Messages[1].Content, "TOTAL 80.64") {
		t.Fatalf("expected OCR text in user message, got %+v", gotReq.Messages)
	}
	if extraction.CompanyDetails == nil || *extraction.CompanyDetails.Name != "Fuel Stop" {
		t.Fatalf("unexpected company details: %+v", extraction.CompanyDetails)
	}
	if extraction.Totals == nil || *extraction.Totals.TotalGross != 80.64 || *extraction.Totals.TotalVAT != 15.08 || *extraction.Totals.TotalNet != 65.56 {
		t.Fatalf("unexpected totals: %+v", extraction.Totals)
	}
	if extraction.IsInvoice == nil || *extraction.IsInvoice {
		t.Fatalf("expected is_invoice false, got %+v", extraction.IsInvoice)
	}
	if len(extraction.Items) != 1 || extraction.Items[0].Deductible == nil || !*extraction.Items[0].Deductible {
		t.Fatalf("unexpected items: %+v", extraction.Items)
	}
}

func TestCompleteMissingKeysDecodeToNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatReply(`{"items": []}`)))
	})

	extraction, err := c.Complete(context.Background(), "blurry text")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if extraction.CompanyDetails != nil || extraction.Transaction != nil || extraction.Totals != nil {
		t.Fatalf("expected absent groups to stay nil, got %+v", extraction)
	}
	if extraction.IsInvoice != nil || extraction.FuelType != nil {
		t.Fatalf("expected absent scalars to stay nil, got %+v", extraction)
	}
}

func TestCompleteStripsMarkdownFences(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fenced := "```json\n{\"is_invoice\": true}\n```"
		_, _ = w.Write([]byte(chatReply(fenced)))
	})

	extraction, err := c.Complete(context.Background(), "INVOICE 42")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if extraction.IsInvoice == nil || !*extraction.IsInvoice {
		t.Fatalf("expected fenced JSON to decode, got %+v", extraction)
	}
}

func TestCompleteFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
		},
		{
			name: "empty content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(chatReply("")))
			},
		},
		{
			name: "unparseable content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(chatReply("this is not json")))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			if _, err := c.Complete(context.Background(), "text"); !errors.Is(err, domain.ErrExternalService) {
				t.Fatalf("expected ErrExternalService, got: %v", err)
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "", "model", time.Second); err == nil {
		t.Fatalf("expected missing api key to be rejected")
	}
	if _, err := NewClient("", "key", "", time.Second); err == nil {
		t.Fatalf("expected missing model to be rejected")
	}
}

func TestPromptTemplateFormats(t *testing.T) {
	rendered := fmt.Sprintf(promptTemplate, "RECEIPT BODY")
	if !strings.Contains(rendered, "RECEIPT BODY") {
		t.Fatalf("expected OCR text in rendered prompt")
	}
	if strings.Contains(rendered, "%!") {
		t.Fatalf("prompt template has a bad format verb: %q", rendered)
	}
	if !strings.Contains(rendered, "0%, 9%, 13.5%, 23%") {
		t.Fatalf("expected VAT rates in rendered prompt")
	}
}
