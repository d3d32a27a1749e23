package analysis

import (
	"encoding/json"
	"sync"

	"github.com/sashabaranov/go-openai/jsonschema"
)

func str(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

func enum(desc string, values ...string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc, Enum: values}
}

var (
	ecgParametersSchema = jsonschema.Definition{
		Type:        jsonschema.Object,
		Description: "Quantitative breakdown of the ECG. Every field is filled; use 'N/A' or 'None' where appropriate.",
		Properties: map[string]jsonschema.Definition{
			"hr":                 str("Heart rate with units, e.g. '75 bpm'."),
			"rhythm":             str("Cardiac rhythm, e.g. 'Normal Sinus Rhythm'."),
			"axis":               str("Cardiac axis, e.g. 'Left Axis Deviation'."),
			"prInterval":         str("PR interval with units."),
			"qrsComplex":         str("QRS duration and morphology."),
			"qtInterval":         str("QT and QTc with units."),
			"stDeviations":       str("ST elevations or depressions with location, or 'None'."),
			"tWaveAbnormalities": str("T-wave abnormalities with location, or 'None'."),
			"otherFindings":      str("Q waves, hypertrophy, bundle branch blocks, or 'None'."),
		},
		Required: []string{"hr", "rhythm", "axis", "prInterval", "qrsComplex", "qtInterval", "stDeviations", "tWaveAbnormalities", "otherFindings"},
	}

	boundingBoxSchema = jsonschema.Definition{
		Type:        jsonschema.Object,
		Description: "Tight box normalized to 0..1 from the top-left corner.",
		Properties: map[string]jsonschema.Definition{
			"x_min": {Type: jsonschema.Number},
			"y_min": {Type: jsonschema.Number},
			"x_max": {Type: jsonschema.Number},
			"y_max": {Type: jsonschema.Number},
		},
		Required: []string{"x_min", "y_min", "x_max", "y_max"},
	}

	annotationSchema = jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"label":          str("Short clinical label including the lead, e.g. 'ST Elevation in V2'."),
			"description":    str("One sentence describing the visual finding."),
			"boundingBox":    boundingBoxSchema,
			"annotationType": enum("point for single features, segment for durations, area for diffuse findings.", "point", "segment", "area"),
			"category":       enum("clinical finding or image artifact.", "clinical", "artifact"),
			"certainty":      enum("Certainty of this finding.", "High", "Moderate", "Low"),
		},
		Required: []string{"label", "description", "boundingBox", "annotationType", "category", "certainty"},
	}

	differentialSchema = jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"diagnosis": str("Alternative diagnosis considered."),
			"rationale": str("Why it was considered less likely."),
		},
		Required: []string{"diagnosis", "rationale"},
	}

	finalAuditSchema = jsonschema.Definition{
		Type:        jsonschema.Object,
		Description: "Self-check of internal consistency.",
		Properties: map[string]jsonschema.Definition{
			"status":    enum("Fail when any contradiction was found.", "Pass", "Fail"),
			"rationale": str("One sentence naming the contradiction, or confirming consistency."),
		},
		Required: []string{"status", "rationale"},
	}
)

// ResponseSchema describes the structured result requested from the model.
func ResponseSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"diagnosis":      str("Single most relevant primary diagnosis. Not 'Uninterpretable' while waveforms are visible."),
			"summary":        str("Clinical narrative: Rate & Rhythm, Intervals & Axis, Morphology, Impression. Image quality limits are stated here."),
			"recommendation": str("Starts with 'Immediate:', 'Urgent:' or 'Routine:'."),
			"analysisNote":   str("What was limited by image quality, or null for a full analysis."),
			"confidence":     {Type: jsonschema.Number, Description: "0.0 to 1.0 for the primary diagnosis."},
			"emergencyLevel": {Type: jsonschema.Integer, Description: "0 to 100; 0-5 for a normal ECG."},
			"heartRateBPM":   {Type: jsonschema.Integer, Description: "Heart rate in bpm, 0 when not determinable."},
			"isCritical":     {Type: jsonschema.Boolean, Description: "True only for immediately life-threatening findings."},
			"ecgParameters":  ecgParametersSchema,
			"annotations": {
				Type:        jsonschema.Array,
				Description: "Annotated findings; empty for a normal ECG. Artifacts are always annotated.",
				Items:       &annotationSchema,
			},
			"differentialDiagnosis": {
				Type:        jsonschema.Array,
				Description: "Two or three alternatives considered; empty when certain.",
				Items:       &differentialSchema,
			},
			"finalAudit": finalAuditSchema,
		},
		Required: []string{"diagnosis", "summary", "recommendation", "confidence", "emergencyLevel", "heartRateBPM", "isCritical", "ecgParameters", "annotations", "differentialDiagnosis", "finalAudit"},
	}
}

var (
	schemaJSONOnce sync.Once
	schemaJSON     json.RawMessage
)

// ResponseSchemaJSON is ResponseSchema encoded for backends that take a raw
// JSON schema.
func ResponseSchemaJSON() json.RawMessage {
	schemaJSONOnce.Do(func() {
		data, err := json.Marshal(ResponseSchema())
		if err != nil {
			panic(err)
		}
		schemaJSON = data
	})
	return schemaJSON
}
