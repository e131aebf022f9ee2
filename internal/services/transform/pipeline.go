// -----------------------------------------------------------------------
// Transform Service - Runs the document transformation pipeline:
// load documents, normalize, fit to budget, build prompts, generate,
// and shape the result payload.
// -----------------------------------------------------------------------

package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
	"github.com/ternarybob/muto/internal/services/budget"
	"github.com/ternarybob/muto/internal/services/llm"
	"github.com/ternarybob/muto/internal/services/normalize"
	"github.com/ternarybob/muto/internal/services/prompt"
)

// Generator abstracts the content generation backend
type Generator interface {
	GenerateContent(ctx context.Context, request *llm.ContentRequest) (*llm.ContentResponse, error)
}

// Normalizer abstracts document text extraction
type Normalizer interface {
	Normalize(ctx context.Context, doc *models.Document) (string, error)
}

// Pipeline drives a transformation job end to end. Stages run strictly
// in order; the first failing stage aborts the run with a stage-tagged
// error.
type Pipeline struct {
	documents      interfaces.DocumentStorage
	normalizer     Normalizer
	budget         *budget.Service
	prompt         *prompt.Service
	generator      Generator
	logger         arbor.ILogger
	maxPromptChars int
	model          string
	temperature    float32
}

// Options configures a pipeline
type Options struct {
	MaxPromptChars int
	Model          string
	Temperature    float32
}

// NewPipeline creates a transformation pipeline
func NewPipeline(
	documents interfaces.DocumentStorage,
	normalizer Normalizer,
	budgetSvc *budget.Service,
	promptSvc *prompt.Service,
	generator Generator,
	logger arbor.ILogger,
	opts Options,
) *Pipeline {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 36000
	}
	return &Pipeline{
		documents:      documents,
		normalizer:     normalizer,
		budget:         budgetSvc,
		prompt:         promptSvc,
		generator:      generator,
		logger:         logger,
		maxPromptChars: opts.MaxPromptChars,
		model:          opts.Model,
		temperature:    opts.Temperature,
	}
}

// generatedPayload is the JSON contract expected from the model
type generatedPayload struct {
	FileType string `json:"file_type"`
	Content  string `json:"content"`
}

// Run executes the pipeline for a job. Returns the result payload on
// success or a stage-tagged error. The caller owns the job record; this
// method never writes job state.
func (p *Pipeline) Run(ctx context.Context, job *models.TransformJob) (*models.TransformResult, *models.JobError) {
	started := time.Now()

	doc, jobErr := p.loadDocument(ctx, job.DocumentID, "document")
	if jobErr != nil {
		return nil, jobErr
	}
	tplInput, jobErr := p.loadDocument(ctx, job.TemplateInputID, "input template")
	if jobErr != nil {
		return nil, jobErr
	}
	tplOutput, jobErr := p.loadDocument(ctx, job.TemplateOutputID, "output template")
	if jobErr != nil {
		return nil, jobErr
	}

	docText, jobErr := p.normalizeStage(ctx, doc, "document")
	if jobErr != nil {
		return nil, jobErr
	}
	inputText, jobErr := p.normalizeStage(ctx, tplInput, "input template")
	if jobErr != nil {
		return nil, jobErr
	}
	outputText, jobErr := p.normalizeStage(ctx, tplOutput, "output template")
	if jobErr != nil {
		return nil, jobErr
	}

	docText, inputText, outputText, report := p.budget.Fit(docText, inputText, outputText, p.maxPromptChars)

	system, user := p.prompt.Build(prompt.Request{
		DocumentContent:       docText,
		InputTemplateContent:  inputText,
		OutputTemplateContent: outputText,
		DocumentTitle:         doc.Title,
		InputTemplateTitle:    tplInput.Title,
		OutputTemplateTitle:   tplOutput.Title,
		DocumentFormat:        doc.Format,
		InputTemplateFormat:   tplInput.Format,
		OutputTemplateFormat:  tplOutput.Format,
		DocumentType:          job.DocumentType,
	})

	response, jobErr := p.generateStage(ctx, system, user)
	if jobErr != nil {
		return nil, jobErr
	}

	fileType, content := parseGenerated(response.Text, tplOutput.Format)

	result := &models.TransformResult{
		TransformedContent: content,
		FileType:           fileType,
		DocumentTitle:      doc.Title,
		Formats: models.ResultFormats{
			Document:       doc.Format,
			TemplateInput:  tplInput.Format,
			TemplateOutput: tplOutput.Format,
			Output:         fileType,
		},
		Truncation: report,
		Timestamp:  time.Now().UTC(),
		Message:    completionMessage(report),
	}

	p.logger.Info().
		Str("job_id", job.JobID).
		Str("file_type", fileType).
		Dur("elapsed", time.Since(started)).
		Bool("truncated", report.Truncated()).
		Msg("Transformation pipeline completed")

	return result, nil
}

func (p *Pipeline) loadDocument(ctx context.Context, documentID, role string) (*models.Document, *models.JobError) {
	if err := ctx.Err(); err != nil {
		return nil, deadlineError(err)
	}

	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, &models.JobError{
				Message: fmt.Sprintf("%s %s not found", role, documentID),
				Stage:   models.StageNormalize,
			}
		}
		return nil, &models.JobError{
			Message: fmt.Sprintf("failed to load %s %s: %v", role, documentID, err),
			Stage:   models.StageNormalize,
		}
	}
	return doc, nil
}

func (p *Pipeline) normalizeStage(ctx context.Context, doc *models.Document, role string) (string, *models.JobError) {
	if err := ctx.Err(); err != nil {
		return "", deadlineError(err)
	}

	text, err := p.normalizer.Normalize(ctx, doc)
	if err != nil {
		if errors.Is(err, normalize.ErrContentUnavailable) {
			return "", &models.JobError{
				Message: fmt.Sprintf("%s %s has no extractable content", role, doc.ID),
				Stage:   models.StageNormalize,
			}
		}
		return "", &models.JobError{
			Message: fmt.Sprintf("failed to normalize %s %s: %v", role, doc.ID, err),
			Stage:   models.StageNormalize,
		}
	}
	return text, nil
}

func (p *Pipeline) generateStage(ctx context.Context, system, user string) (*llm.ContentResponse, *models.JobError) {
	if err := ctx.Err(); err != nil {
		return nil, deadlineError(err)
	}

	request := &llm.ContentRequest{
		Messages:          []interfaces.Message{{Role: "user", Content: user}},
		Model:             p.model,
		Temperature:       p.temperature,
		SystemInstruction: system,
		OutputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_type": map[string]interface{}{"type": "string"},
				"content":   map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"file_type", "content"},
		},
	}

	response, err := p.generator.GenerateContent(ctx, request)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrGenerationTimeout):
			return nil, &models.JobError{
				Message: fmt.Sprintf("generation timed out: %v", err),
				Stage:   models.StageGeneration,
			}
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, deadlineError(err)
		default:
			return nil, &models.JobError{
				Message: fmt.Sprintf("generation failed: %v", err),
				Stage:   models.StageGeneration,
			}
		}
	}
	if strings.TrimSpace(response.Text) == "" {
		return nil, &models.JobError{
			Message: "generation returned empty content",
			Stage:   models.StageGeneration,
		}
	}
	return response, nil
}

// parseGenerated extracts the JSON payload from the model response.
// Responses that are not valid JSON are treated as raw transformed text
// with the output template's format.
func parseGenerated(text, fallbackFormat string) (string, string) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload generatedPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil && payload.Content != "" {
		fileType := strings.TrimPrefix(strings.ToLower(payload.FileType), ".")
		if fileType == "" {
			fileType = fallbackFormat
		}
		return fileType, payload.Content
	}

	if fallbackFormat == "" {
		fallbackFormat = models.FormatText
	}
	return fallbackFormat, text
}

// completionMessage builds the human-readable summary stored on the result.
func completionMessage(report *models.TruncationReport) string {
	message := "Document transformation completed"
	if report == nil || !report.Truncated() {
		return message
	}
	if report.Aggressive {
		return fmt.Sprintf(
			"%s. Content was significantly truncated to fit the generation budget (document %d of %d characters kept)",
			message, report.Document.KeptChars, report.Document.OriginalChars)
	}
	return fmt.Sprintf(
		"%s. Input was truncated to fit the generation budget (document %d of %d characters kept)",
		message, report.Document.KeptChars, report.Document.OriginalChars)
}

func deadlineError(err error) *models.JobError {
	message := "pipeline deadline exceeded"
	if errors.Is(err, context.Canceled) {
		message = "pipeline run cancelled"
	}
	return &models.JobError{
		Message: fmt.Sprintf("%s: %v", message, err),
		Stage:   models.StagePipeline,
	}
}
