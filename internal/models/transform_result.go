package models

import "time"

// ResultFormats names the file formats seen by the pipeline
type ResultFormats struct {
	Document       string `json:"document"`        // Format of the source document
	TemplateInput  string `json:"template_input"`  // Format of the input template
	TemplateOutput string `json:"template_output"` // Format of the output template
	Output         string `json:"output"`          // Format the model produced
}

// TruncationEntry records how one input fared against the character budget
type TruncationEntry struct {
	OriginalChars int `json:"original_chars"`
	KeptChars     int `json:"kept_chars"`
}

// Truncated returns true if any characters were dropped
func (e TruncationEntry) Truncated() bool {
	return e.KeptChars < e.OriginalChars
}

// TruncationReport describes what the budget pass did to the three inputs.
// A nil report on a result means everything fit untouched.
type TruncationReport struct {
	Document       TruncationEntry `json:"document"`
	TemplateInput  TruncationEntry `json:"template_input"`
	TemplateOutput TruncationEntry `json:"template_output"`
	Aggressive     bool            `json:"aggressive"`
}

// Truncated returns true if any of the three inputs lost characters
func (r *TruncationReport) Truncated() bool {
	if r == nil {
		return false
	}
	return r.Document.Truncated() || r.TemplateInput.Truncated() || r.TemplateOutput.Truncated()
}

// TransformResult is the payload stored on a completed job
type TransformResult struct {
	TransformedContent string            `json:"transformed_content"`
	FileType           string            `json:"file_type"`
	DocumentTitle      string            `json:"document_title,omitempty"`
	Formats            ResultFormats     `json:"formats"`
	Truncation         *TruncationReport `json:"truncation_info,omitempty"`
	Message            string            `json:"message,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}
