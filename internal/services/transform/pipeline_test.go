package transform

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
	"github.com/ternarybob/muto/internal/services/budget"
	"github.com/ternarybob/muto/internal/services/llm"
	"github.com/ternarybob/muto/internal/services/normalize"
	"github.com/ternarybob/muto/internal/services/prompt"
)

type fakeDocumentStorage struct {
	docs map[string]*models.Document
}

func (f *fakeDocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocumentStorage) DeleteDocument(ctx context.Context, id string) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeDocumentStorage) ListDocumentsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Document, error) {
	return nil, nil
}

func (f *fakeDocumentStorage) CountDocuments(ctx context.Context) (int, error) {
	return len(f.docs), nil
}

type fakeGenerator struct {
	response string
	err      error
	lastReq  *llm.ContentRequest
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, request *llm.ContentRequest) (*llm.ContentResponse, error) {
	f.lastReq = request
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ContentResponse{Text: f.response, Provider: llm.ProviderClaude}, nil
}

func testDocuments() *fakeDocumentStorage {
	return &fakeDocumentStorage{docs: map[string]*models.Document{
		"doc_1": {
			ID: "doc_1", OwnerID: "user-1", Title: "Lease 2024",
			Format: models.FormatText, Content: "Tenant shall pay rent of $2000 monthly.",
		},
		"doc_in": {
			ID: "doc_in", OwnerID: "user-1", Title: "Lease Template",
			Format: models.FormatText, Tag: models.TagTemplate, Content: "Sample lease text",
		},
		"doc_out": {
			ID: "doc_out", OwnerID: "user-1", Title: "Summary Template",
			Format: models.FormatMarkdown, Tag: models.TagTemplate, Content: "# Summary",
		},
	}}
}

func newTestPipeline(docs *fakeDocumentStorage, gen Generator) *Pipeline {
	logger := arbor.NewLogger()
	return NewPipeline(
		docs,
		normalize.NewService(logger),
		budget.NewService(logger),
		prompt.NewService(logger),
		gen,
		logger,
		Options{MaxPromptChars: 36000},
	)
}

func testJob() *models.TransformJob {
	return models.NewTransformJob("job_1", "user-1", "doc_1", "doc_in", "doc_out", models.DocumentTypeLease)
}

func TestPipelineSuccess(t *testing.T) {
	gen := &fakeGenerator{response: `{"file_type": "markdown", "content": "# Lease Summary\nRent: $2000"}`}
	p := newTestPipeline(testDocuments(), gen)

	result, jobErr := p.Run(context.Background(), testJob())
	if jobErr != nil {
		t.Fatalf("Pipeline failed: %+v", jobErr)
	}
	if result.FileType != models.FormatMarkdown {
		t.Errorf("Expected markdown file type, got %s", result.FileType)
	}
	if !strings.Contains(result.TransformedContent, "Lease Summary") {
		t.Errorf("Unexpected content: %q", result.TransformedContent)
	}
	if result.Formats.Output != models.FormatMarkdown || result.Formats.Document != models.FormatText {
		t.Errorf("Unexpected formats: %+v", result.Formats)
	}
	if result.Truncation != nil {
		t.Errorf("Expected no truncation report for small inputs, got %+v", result.Truncation)
	}
	if result.Timestamp.IsZero() {
		t.Error("Expected timestamp set")
	}
	if result.Message != "Document transformation completed" {
		t.Errorf("Expected completion message, got %q", result.Message)
	}

	// The generation request carries the composed prompts
	if gen.lastReq == nil {
		t.Fatal("Expected generator to be called")
	}
	if !strings.Contains(gen.lastReq.SystemInstruction, "document transformation assistant") {
		t.Error("Expected system instruction in generation request")
	}
	if len(gen.lastReq.Messages) != 1 || !strings.Contains(gen.lastReq.Messages[0].Content, "Tenant shall pay rent") {
		t.Error("Expected user prompt with document content")
	}
}

func TestPipelineRawTextFallback(t *testing.T) {
	gen := &fakeGenerator{response: "# Lease Summary\nNot JSON at all"}
	p := newTestPipeline(testDocuments(), gen)

	result, jobErr := p.Run(context.Background(), testJob())
	if jobErr != nil {
		t.Fatalf("Pipeline failed: %+v", jobErr)
	}
	if result.FileType != models.FormatMarkdown {
		t.Errorf("Expected output template format as fallback, got %s", result.FileType)
	}
	if result.TransformedContent != "# Lease Summary\nNot JSON at all" {
		t.Errorf("Expected raw text preserved, got %q", result.TransformedContent)
	}
}

func TestPipelineFencedJSONResponse(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n{\"file_type\": \"csv\", \"content\": \"a,b\\nc,d\"}\n```"}
	p := newTestPipeline(testDocuments(), gen)

	result, jobErr := p.Run(context.Background(), testJob())
	if jobErr != nil {
		t.Fatalf("Pipeline failed: %+v", jobErr)
	}
	if result.FileType != models.FormatCSV {
		t.Errorf("Expected csv file type from fenced JSON, got %s", result.FileType)
	}
}

func TestPipelineMissingDocument(t *testing.T) {
	docs := testDocuments()
	delete(docs.docs, "doc_1")
	p := newTestPipeline(docs, &fakeGenerator{response: "{}"})

	_, jobErr := p.Run(context.Background(), testJob())
	if jobErr == nil {
		t.Fatal("Expected error for missing document")
	}
	if jobErr.Stage != models.StageNormalize {
		t.Errorf("Expected normalize stage, got %s", jobErr.Stage)
	}
	if !strings.Contains(jobErr.Message, "doc_1") {
		t.Errorf("Expected document ID in message, got %q", jobErr.Message)
	}
}

func TestPipelineContentUnavailable(t *testing.T) {
	docs := testDocuments()
	docs.docs["doc_1"].Content = "   "
	p := newTestPipeline(docs, &fakeGenerator{response: "{}"})

	_, jobErr := p.Run(context.Background(), testJob())
	if jobErr == nil || jobErr.Stage != models.StageNormalize {
		t.Fatalf("Expected normalize stage error, got %+v", jobErr)
	}
}

func TestPipelineGenerationTimeout(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("%w after 3m0s", llm.ErrGenerationTimeout)}
	p := newTestPipeline(testDocuments(), gen)

	_, jobErr := p.Run(context.Background(), testJob())
	if jobErr == nil {
		t.Fatal("Expected error for generation timeout")
	}
	if jobErr.Stage != models.StageGeneration {
		t.Errorf("Expected generation stage, got %s", jobErr.Stage)
	}
	if !strings.Contains(jobErr.Message, "timed out") {
		t.Errorf("Expected timeout message, got %q", jobErr.Message)
	}
}

func TestPipelineGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: &llm.GenerationError{Provider: "claude", Detail: "rate limited"}}
	p := newTestPipeline(testDocuments(), gen)

	_, jobErr := p.Run(context.Background(), testJob())
	if jobErr == nil || jobErr.Stage != models.StageGeneration {
		t.Fatalf("Expected generation stage error, got %+v", jobErr)
	}
	if !strings.Contains(jobErr.Message, "rate limited") {
		t.Errorf("Expected upstream detail in message, got %q", jobErr.Message)
	}
}

func TestPipelineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(testDocuments(), &fakeGenerator{response: "{}"})

	_, jobErr := p.Run(ctx, testJob())
	if jobErr == nil {
		t.Fatal("Expected error for expired context")
	}
	if jobErr.Stage != models.StagePipeline {
		t.Errorf("Expected pipeline stage, got %s", jobErr.Stage)
	}
	if !strings.Contains(jobErr.Message, "cancelled") {
		t.Errorf("Expected cancellation wording, got %q", jobErr.Message)
	}
}

func TestPipelineTruncationReported(t *testing.T) {
	docs := testDocuments()
	docs.docs["doc_1"].Content = strings.Repeat("Rent clause. ", 5000)
	gen := &fakeGenerator{response: `{"file_type": "markdown", "content": "# Summary"}`}

	logger := arbor.NewLogger()
	p := NewPipeline(
		docs,
		normalize.NewService(logger),
		budget.NewService(logger),
		prompt.NewService(logger),
		gen,
		logger,
		Options{MaxPromptChars: 2000},
	)

	result, jobErr := p.Run(context.Background(), testJob())
	if jobErr != nil {
		t.Fatalf("Pipeline failed: %+v", jobErr)
	}
	if result.Truncation == nil || !result.Truncation.Truncated() {
		t.Fatalf("Expected truncation report, got %+v", result.Truncation)
	}
	if result.Truncation.Document.KeptChars >= result.Truncation.Document.OriginalChars {
		t.Error("Expected document truncated")
	}
	if !strings.Contains(result.Message, "Document transformation completed") ||
		!strings.Contains(result.Message, "truncated") {
		t.Errorf("Expected completion message with truncation note, got %q", result.Message)
	}
}
