// Package completion wraps an OpenAI-compatible chat completions endpoint
// that turns OCR text into a structured receipt record under a fixed
// prompt contract.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"amberscan/pkg/domain"
)

const systemPrompt = "You are Amberscan, a financial assistant for VAT compliance. Respond only in JSON."

const promptTemplate = `You are Amberscan, an advanced AI for analyzing receipts and invoices under Irish tax laws. Your task is to:
1. Extract and organize receipt details:
    - Identify the **company name**, address, and VAT number.
    - Extract **transaction details**: date, time, payment method.
    - Identify **items**: description, quantity, unit price, gross price.
    - Identify **fuel type** (e.g., Diesel, Petrol) if applicable.
    - Determine if the receipt is an invoice by checking for the exact words "invoice," "bill," or "bill number."
2. Perform VAT calculations using Irish rates:
    - Assign appropriate VAT rates (0%%, 9%%, 13.5%%, 23%%).
    - Calculate each item's VAT as gross * (rate / (100 + rate)) and net as gross minus VAT.
3. Flag items as tax-deductible (true or false) based on Irish laws: business-purpose items are deductible, personal-consumption items are not.
4. Output results as JSON:
{
    "company_details": {
        "name": "Company Name",
        "address": "Company Address",
        "vat_number": "VAT123456"
    },
    "transaction_details": {
        "date": "YYYY-MM-DD",
        "time": "HH:MM",
        "payment_method": "Cash/Card"
    },
    "items": [
        {
            "description": "Item description",
            "quantity": 1,
            "unit_price": 10.00,
            "gross_price": 10.00,
            "vat_rate": 23,
            "vat_amount": 1.87,
            "net_amount": 8.13,
            "tax_deductible": true
        }
    ],
    "fuel_type": "Diesel/Petrol/None",
    "is_invoice": true,
    "totals": {
        "total_gross": 100.00,
        "total_vat": 18.70,
        "total_net": 81.30
    }
}
---
Receipt Data:
%s`

// Client calls an OpenAI-compatible /v1/chat/completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient builds a completion client. baseURL should include the /v1
// prefix; the API key is mandatory since the hosted endpoint rejects
// unauthenticated calls.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("completion api key required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("completion model required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Complete sends the OCR text through the fixed prompt contract and
// decodes the structured result. Missing top-level keys decode to nil
// fields rather than failing; an unparseable or empty response fails with
// the external service marker.
func (c *Client) Complete(ctx context.Context, ocrText string) (domain.Extraction, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(promptTemplate, ocrText)},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Extraction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Extraction{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: completion request: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return domain.Extraction{}, fmt.Errorf("%w: completion api: %s", domain.ErrExternalService, errResp.Error.Message)
		}
		return domain.Extraction{}, fmt.Errorf("%w: completion api: %s", domain.ErrExternalService, resp.Status)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: completion decode: %v", domain.ErrExternalService, err)
	}
	if len(chatResp.Choices) == 0 {
		return domain.Extraction{}, fmt.Errorf("%w: empty completion response", domain.ErrExternalService)
	}
	content := stripFences(chatResp.Choices[0].Message.Content)
	if content == "" {
		return domain.Extraction{}, fmt.Errorf("%w: empty completion response", domain.ErrExternalService)
	}
	var extraction domain.Extraction
	if err := json.Unmarshal([]byte(content), &extraction); err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: completion payload not parseable: %v", domain.ErrExternalService, err)
	}
	return extraction, nil
}

// stripFences removes a markdown code fence when the model wraps its JSON
// despite the json_object response format.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// OpenAI-compatible request/response types.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
