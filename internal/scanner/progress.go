package scanner

import "time"

// Step is one stage of the cosmetic progress display. The timings are fixed
// and unrelated to the real analysis; they never drive Status.
type Step struct {
	Title    string        `json:"title"`
	Detail   string        `json:"detail"`
	Duration time.Duration `json:"-"`
}

var Steps = []Step{
	{Title: "Validating Image Quality", Detail: "Checking for artifacts, baseline wander and interference.", Duration: 1200 * time.Millisecond},
	{Title: "Extracting ECG Parameters", Detail: "Measuring intervals, calculating the cardiac axis and identifying key waveforms.", Duration: 1800 * time.Millisecond},
	{Title: "Identifying Key Findings & Artifacts", Detail: "Correlating measurements to detect abnormalities and artifacts.", Duration: 2000 * time.Millisecond},
	{Title: "Synthesizing Final Diagnosis", Detail: "Generating the summary and running the self-check.", Duration: 2500 * time.Millisecond},
}

type Progress struct {
	Status        Status `json:"status"`
	Step          int    `json:"step"`
	Total         int    `json:"total"`
	Title         string `json:"title"`
	Detail        string `json:"detail"`
	Indeterminate bool   `json:"indeterminate"`
	ElapsedMs     int64  `json:"elapsedMs"`
}

// ProgressAt returns the display step for time since the analysis started.
// Each step advances when the previous one's duration has run out; once the
// whole sequence has elapsed the last step is held and Indeterminate is set.
func ProgressAt(elapsed time.Duration) Progress {
	if elapsed < 0 {
		elapsed = 0
	}

	step := 0
	var boundary time.Duration
	for i, s := range Steps {
		boundary += s.Duration
		if elapsed < boundary {
			break
		}
		if i < len(Steps)-1 {
			step = i + 1
		}
	}

	return Progress{
		Status:        StatusAnalyzing,
		Step:          step,
		Total:         len(Steps),
		Title:         Steps[step].Title,
		Detail:        Steps[step].Detail,
		Indeterminate: elapsed >= boundary,
		ElapsedMs:     elapsed.Milliseconds(),
	}
}
