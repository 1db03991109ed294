// Package ai proxies brewing, roasting and invoice-extraction requests to a
// hosted language model and shapes the reply.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result carries either a parsed recommendation or the raw reply with
// ParseError set.
type Result struct {
	Recommendation map[string]any `json:"recommendation,omitempty"`
	RawText        string         `json:"raw_text,omitempty"`
	ParseError     bool           `json:"parse_error,omitempty"`
}

type BrewRequest struct {
	CoffeeName string   `json:"coffee_name"`
	RoastLevel string   `json:"roast_level,omitempty"`
	AgeDays    int      `json:"age_days,omitempty"`
	BrewMethod string   `json:"brew_method"`
	TasteNotes []string `json:"taste_notes,omitempty"`
}

type RoastRequest struct {
	GreenCoffeeName  string  `json:"green_coffee_name"`
	Origin           string  `json:"origin,omitempty"`
	Process          string  `json:"process,omitempty"`
	TargetRoastLevel string  `json:"target_roast_level,omitempty"`
	BatchWeight      float64 `json:"batch_weight,omitempty"`
}

type InvoiceRequest struct {
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type,omitempty"`
}

// InputError marks a payload the proxy refuses before calling upstream.
type InputError struct {
	Reason string
}

func (e InputError) Error() string { return e.Reason }

// UpstreamError wraps a failed call to the model provider.
type UpstreamError struct {
	Err error
}

func (e UpstreamError) Error() string { return "ai upstream failed: " + e.Err.Error() }

func (e UpstreamError) Unwrap() error { return e.Err }

// Service builds prompts and parses replies. A nil Completer means the
// feature is not configured.
type Service struct {
	Completer Completer
}

const systemPrompt = "You are an expert specialty-coffee roaster and barista. Answer with a single JSON object and nothing else."

func (s Service) Configured() bool {
	if s.Completer == nil {
		return false
	}
	if c, ok := s.Completer.(*Client); ok {
		return strings.TrimSpace(c.APIKey) != ""
	}
	return true
}

func (s Service) BrewRecommendation(ctx context.Context, req BrewRequest) (Result, error) {
	if strings.TrimSpace(req.CoffeeName) == "" {
		return Result{}, InputError{Reason: "coffee_name is required"}
	}
	if strings.TrimSpace(req.BrewMethod) == "" {
		return Result{}, InputError{Reason: "brew_method is required"}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend a %s recipe for %q", req.BrewMethod, req.CoffeeName)
	if req.RoastLevel != "" {
		fmt.Fprintf(&b, ", a %s roast", req.RoastLevel)
	}
	fmt.Fprintf(&b, " that is %d days off roast.", req.AgeDays)
	if len(req.TasteNotes) > 0 {
		fmt.Fprintf(&b, " Previous cups tasted: %s.", strings.Join(req.TasteNotes, ", "))
	}
	b.WriteString(` Reply with keys: dose_grams, water_grams, water_temp_c, grind_size, brew_time, steps (array), rationale.`)
	return s.run(ctx, Prompt{System: systemPrompt, User: b.String()})
}

func (s Service) RoastRecommendation(ctx context.Context, req RoastRequest) (Result, error) {
	if strings.TrimSpace(req.GreenCoffeeName) == "" {
		return Result{}, InputError{Reason: "green_coffee_name is required"}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest a roast profile for the green coffee %q", req.GreenCoffeeName)
	if req.Origin != "" {
		fmt.Fprintf(&b, " from %s", req.Origin)
	}
	if req.Process != "" {
		fmt.Fprintf(&b, " (%s process)", req.Process)
	}
	if req.TargetRoastLevel != "" {
		fmt.Fprintf(&b, ", targeting a %s roast", req.TargetRoastLevel)
	}
	if req.BatchWeight > 0 {
		fmt.Fprintf(&b, " with a %.0f g batch", req.BatchWeight)
	}
	b.WriteString(`. Reply with keys: charge_temp_c, first_crack_time, development_time_ratio, drop_temp_c, total_time, notes.`)
	return s.run(ctx, Prompt{System: systemPrompt, User: b.String()})
}

func (s Service) ExtractInvoice(ctx context.Context, req InvoiceRequest) (Result, error) {
	if strings.TrimSpace(req.ImageBase64) == "" {
		return Result{}, InputError{Reason: "image_base64 is required"}
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return Result{}, InputError{Reason: "media_type must be an image type"}
	}
	user := `Extract the green coffee purchase from this invoice. Reply with keys: supplier, invoice_date, items (array of {name, origin, process, quantity_kg, price_per_kg}), total.`
	return s.run(ctx, Prompt{System: systemPrompt, User: user, Image: &Image{MediaType: mediaType, Data: req.ImageBase64}})
}

func (s Service) run(ctx context.Context, p Prompt) (Result, error) {
	if !s.Configured() {
		return Result{}, ErrNotConfigured
	}
	text, err := s.Completer.Complete(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return Result{}, err
		}
		return Result{}, UpstreamError{Err: err}
	}
	if obj, ok := ParseStructured(text); ok {
		return Result{Recommendation: obj}, nil
	}
	return Result{RawText: text, ParseError: true}, nil
}

// ParseStructured extracts a JSON object from model output, unwrapping a
// fenced code block and any surrounding prose.
func ParseStructured(text string) (map[string]any, bool) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, false
	}
	return out, true
}
