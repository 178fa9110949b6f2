package analysis

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Field is a normalized result field.
type Field string

const (
	FieldDiagnosis      Field = "diagnosis"
	FieldSymptoms       Field = "symptoms"
	FieldTreatment      Field = "treatment"
	FieldAudio          Field = "audio"
	FieldModel          Field = "model"
	FieldProcessingTime Field = "processing_time_ms"
	FieldCached         Field = "cached"
	FieldSuccess        Field = "success"
)

// FieldMapping maps one upstream key (dotted for nested objects) onto a Field.
// Scale converts numeric values into the target unit; zero means 1.
type FieldMapping struct {
	Source string
	Target Field
	Scale  float64
}

// ResponseMappings lists upstream keys in priority order. The first non-empty
// value for a Field wins. New backend spellings only need a row here.
var ResponseMappings = []FieldMapping{
	{Source: "success", Target: FieldSuccess},

	{Source: "diagnosis", Target: FieldDiagnosis},
	{Source: "diagnostic", Target: FieldDiagnosis},
	{Source: "result.diagnosis", Target: FieldDiagnosis},
	{Source: "analysis.diagnosis", Target: FieldDiagnosis},
	{Source: "disease", Target: FieldDiagnosis},
	{Source: "prediction", Target: FieldDiagnosis},
	{Source: "label", Target: FieldDiagnosis},

	{Source: "symptoms", Target: FieldSymptoms},
	{Source: "symptomes", Target: FieldSymptoms},
	{Source: "result.symptoms", Target: FieldSymptoms},
	{Source: "analysis.symptoms", Target: FieldSymptoms},
	{Source: "description", Target: FieldSymptoms},

	{Source: "treatment", Target: FieldTreatment},
	{Source: "traitement", Target: FieldTreatment},
	{Source: "result.treatment", Target: FieldTreatment},
	{Source: "analysis.treatment", Target: FieldTreatment},
	{Source: "recommendations", Target: FieldTreatment},
	{Source: "advice", Target: FieldTreatment},

	{Source: "audio_url", Target: FieldAudio},
	{Source: "audio_file", Target: FieldAudio},
	{Source: "audioUrl", Target: FieldAudio},
	{Source: "result.audio_url", Target: FieldAudio},
	{Source: "audio", Target: FieldAudio},

	{Source: "model_used", Target: FieldModel},
	{Source: "modelUsed", Target: FieldModel},
	{Source: "model", Target: FieldModel},
	{Source: "result.model_used", Target: FieldModel},

	{Source: "processing_time_ms", Target: FieldProcessingTime},
	{Source: "processingTimeMs", Target: FieldProcessingTime},
	{Source: "processing_time", Target: FieldProcessingTime, Scale: 1000},

	{Source: "cached", Target: FieldCached},
	{Source: "from_cache", Target: FieldCached},
}

// Placeholders fill text fields the backend did not provide.
var Placeholders = map[Field]string{
	FieldDiagnosis: "Diagnostic non disponible",
	FieldSymptoms:  "Symptômes non spécifiés",
	FieldTreatment: "Consultez un agronome pour un traitement adapté",
	FieldModel:     "unknown",
}

// Normalize maps a decoded backend response onto AnalysisResult using
// ResponseMappings. baseURL resolves relative audio references.
func Normalize(raw map[string]any, baseURL string) AnalysisResult {
	flat := make(map[string]any)
	flatten("", raw, flat)

	text := make(map[Field]string)
	nums := make(map[Field]float64)
	flags := make(map[Field]bool)

	for _, m := range ResponseMappings {
		v, ok := flat[m.Source]
		if !ok {
			continue
		}
		switch m.Target {
		case FieldProcessingTime:
			if _, done := nums[m.Target]; done {
				continue
			}
			if n, ok := toNumber(v); ok {
				scale := m.Scale
				if scale == 0 {
					scale = 1
				}
				nums[m.Target] = n * scale
			}
		case FieldCached, FieldSuccess:
			if _, done := flags[m.Target]; done {
				continue
			}
			if b, ok := toBool(v); ok {
				flags[m.Target] = b
			}
		default:
			if text[m.Target] != "" {
				continue
			}
			if s := toText(v); s != "" {
				text[m.Target] = s
			}
		}
	}

	success, ok := flags[FieldSuccess]
	if !ok {
		success = true
	}

	res := AnalysisResult{
		Success:          success,
		Diagnosis:        orPlaceholder(text, FieldDiagnosis),
		Symptoms:         orPlaceholder(text, FieldSymptoms),
		Treatment:        orPlaceholder(text, FieldTreatment),
		ModelUsed:        orPlaceholder(text, FieldModel),
		ProcessingTimeMs: nums[FieldProcessingTime],
		Cached:           flags[FieldCached],
	}
	if audio := text[FieldAudio]; audio != "" {
		res.AudioRef = &audio
		res.AudioURL = resolveURL(baseURL, audio)
	}
	return res
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(raw map[string]any) string {
	for _, key := range []string{"detail", "error", "message", "msg"} {
		if s := toText(raw[key]); s != "" {
			return s
		}
	}
	return ""
}

func orPlaceholder(text map[Field]string, f Field) string {
	if s := text[f]; s != "" {
		return s
	}
	return Placeholders[f]
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := toText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		// Objects inside arrays are joined by sorted key.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := toText(t[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case float64:
		return t != 0, true
	default:
		return false, false
	}
}

func resolveURL(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
