package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

// DefaultMetadataMaxChars is the text budget sent to the provider.
const DefaultMetadataMaxChars = 8000

// dateLayouts are tried in order when coercing date fields.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2006",
	"2006-01",
	"2006",
}

// MetadataExtractor derives schema fields from document text with one
// provider call. It never fails: problems are returned as warnings.
type MetadataExtractor struct {
	llm      driven.LLMService
	prompts  driven.PromptStore
	maxChars int
}

// NewMetadataExtractor creates an extractor. llm may be nil, in which case
// every extraction yields a warning and no fields.
func NewMetadataExtractor(llm driven.LLMService, prompts driven.PromptStore, maxChars int) *MetadataExtractor {
	if maxChars <= 0 {
		maxChars = DefaultMetadataMaxChars
	}
	return &MetadataExtractor{llm: llm, prompts: prompts, maxChars: maxChars}
}

// Extract returns the validated metadata and any warnings. hints are
// format-level values (such as an HTML byline) used for fields the
// provider leaves empty.
func (e *MetadataExtractor) Extract(ctx context.Context, text string, schema domain.MetadataSchema, hints map[string]any) (map[string]any, []string) {
	if schema.IsEmpty() {
		return nil, nil
	}

	raw, warning := e.generate(ctx, text, schema)
	if raw == nil {
		raw = make(map[string]any)
	}
	for k, v := range hints {
		if existing, ok := raw[k]; !ok || existing == nil || existing == "" {
			raw[k] = v
		}
	}

	metadata, warnings := ValidateMetadata(raw, schema)
	if warning != "" {
		warnings = append([]string{warning}, warnings...)
	}
	return metadata, warnings
}

// generate asks the provider for the raw field values. On failure it
// returns nil and a warning.
func (e *MetadataExtractor) generate(ctx context.Context, text string, schema domain.MetadataSchema) (map[string]any, string) {
	if e.llm == nil {
		return nil, "metadata extraction skipped: " + domain.ErrLLMUnavailable.Error()
	}

	tmpl, err := e.prompts.Load(driven.PromptMetadataExtract)
	if err != nil {
		return nil, fmt.Sprintf("metadata extraction skipped: load prompt: %v", err)
	}
	prompt := fmt.Sprintf(tmpl, describeSchema(schema), truncateRunes(text, e.maxChars))

	response, err := e.llm.Generate(ctx, prompt, driven.GenerateOptions{JSON: true, Temperature: 0})
	if err != nil {
		logger.Warn("metadata: provider call failed: %v", err)
		return nil, fmt.Sprintf("metadata extraction failed: %v", err)
	}

	raw, err := firstJSONObject(response)
	if err != nil {
		logger.Warn("metadata: unparsable response: %v", err)
		return nil, fmt.Sprintf("metadata extraction failed: %v", err)
	}
	return raw, ""
}

// ValidateMetadata coerces raw values to the schema. Fields that cannot be
// coerced are dropped with a warning; missing required fields are warned about.
func ValidateMetadata(raw map[string]any, schema domain.MetadataSchema) (map[string]any, []string) {
	out := make(map[string]any)
	var warnings []string

	for _, f := range schema.Fields {
		value, ok := raw[f.Name]
		if !ok || value == nil || value == "" {
			if f.Required {
				warnings = append(warnings, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		coerced, err := coerceField(f, value)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("field %q: %v", f.Name, err))
			if f.Required {
				warnings = append(warnings, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		out[f.Name] = coerced
	}

	if len(out) == 0 {
		out = nil
	}
	return out, warnings
}

func coerceField(f domain.FieldSpec, v any) (any, error) {
	switch f.Type {
	case domain.FieldString:
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		return matchEnum(f.Enum, s)
	case domain.FieldNumber:
		return coerceNumber(v)
	case domain.FieldInteger:
		n, err := coerceNumber(v)
		if err != nil {
			return nil, err
		}
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return nil, fmt.Errorf("%v is out of the integer range", n)
		}
		return int64(n), nil
	case domain.FieldBoolean:
		return coerceBool(v)
	case domain.FieldDate:
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		return coerceDate(s)
	case domain.FieldStringList:
		return coerceStringList(f.Enum, v)
	default:
		return nil, fmt.Errorf("unknown type %q", f.Type)
	}
}

func coerceString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

// coerceNumber accepts finite numbers only; NaN and infinities cannot be stored.
func coerceNumber(v any) (float64, error) {
	var n float64
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t.String())
		}
		n = f
	case float64:
		n = t
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		n = f
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}
	return n, nil
}

func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case json.Number:
		switch t.String() {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("%v is not a boolean", v)
}

func coerceDate(s string) (string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%q is not a recognised date", s)
}

func coerceStringList(enum []string, v any) ([]string, error) {
	var items []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			s, err := coerceString(item)
			if err != nil {
				return nil, err
			}
			items = append(items, s)
		}
	case []string:
		items = append(items, t...)
	case string:
		items = strings.Split(t, ",")
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		canonical, err := matchEnum(enum, item)
		if err != nil {
			return nil, err
		}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return nil, errors.New("list is empty")
	}
	return out, nil
}

// matchEnum returns the canonical enum value matching s case-insensitively.
func matchEnum(enum []string, s string) (string, error) {
	if len(enum) == 0 {
		return s, nil
	}
	for _, allowed := range enum {
		if strings.EqualFold(allowed, s) {
			return allowed, nil
		}
	}
	return "", fmt.Errorf("%q is not one of %s", s, strings.Join(enum, ", "))
}

// firstJSONObject decodes the first JSON object in s, ignoring any prose or
// code fences around it.
func firstJSONObject(s string) (map[string]any, error) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		dec := json.NewDecoder(strings.NewReader(s[start:]))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil {
			return obj, nil
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, errors.New("no JSON object in response")
}

func describeSchema(schema domain.MetadataSchema) string {
	var b strings.Builder
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.Type)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of [%s]", strings.Join(f.Enum, ", "))
		}
		if f.Type == domain.FieldDate {
			b.WriteString(" format YYYY-MM-DD")
		}
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
