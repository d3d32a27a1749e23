package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/cardioscan/backend/internal/storage/models"
)

//go:embed protocol.yaml
var defaultProtocol []byte

// Protocol is the review instruction set sent with every analysis.
type Protocol struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	System  string `yaml:"system"`
	Prompt  string `yaml:"prompt"`

	tmpl *template.Template
}

type promptPatient struct {
	Age      string
	Gender   string
	Symptoms string
}

type promptExample struct {
	Index          int
	Age            string
	Gender         string
	Symptoms       string
	Diagnosis      string
	Summary        string
	Recommendation string
	IsCritical     bool
	HR             string
	Rhythm         string
	STDeviations   string
	TWave          string
}

type promptData struct {
	Patient  promptPatient
	Examples []promptExample
}

// LoadProtocol reads a protocol file, or the built-in protocol when path is
// empty.
func LoadProtocol(path string) (*Protocol, error) {
	data := defaultProtocol
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read protocol file: %w", err)
		}
	}
	return ParseProtocol(data)
}

func ParseProtocol(data []byte) (*Protocol, error) {
	var p Protocol
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse protocol: %w", err)
	}
	if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.Prompt) == "" {
		return nil, fmt.Errorf("protocol %q needs both system and prompt", p.Name)
	}

	tmpl, err := template.New(p.Name).Option("missingkey=error").Parse(p.Prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse protocol prompt: %w", err)
	}
	p.tmpl = tmpl
	return &p, nil
}

// Render builds the user prompt for one analysis.
func (p *Protocol) Render(patient models.PatientContext, examples []models.ScanRecord) (string, error) {
	data := promptData{
		Patient: promptPatient{
			Age:      patient.Age,
			Gender:   string(patient.Gender),
			Symptoms: orNA(patient.Symptoms),
		},
	}
	for i, ex := range examples {
		r := ex.AnalysisResult
		data.Examples = append(data.Examples, promptExample{
			Index:          i + 1,
			Age:            ex.PatientInfo.Age,
			Gender:         string(ex.PatientInfo.Gender),
			Symptoms:       orNA(ex.PatientInfo.Symptoms),
			Diagnosis:      r.Diagnosis,
			Summary:        r.Summary,
			Recommendation: r.Recommendation,
			IsCritical:     r.IsCritical,
			HR:             r.EcgParameters.HR,
			Rhythm:         r.EcgParameters.Rhythm,
			STDeviations:   r.EcgParameters.STDeviations,
			TWave:          r.EcgParameters.TWaveAbnormalities,
		})
	}

	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "N/A"
	}
	return s
}
