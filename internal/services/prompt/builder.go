// -----------------------------------------------------------------------
// Prompt Service - Composes the system and user prompts for the document
// transformation call.
// -----------------------------------------------------------------------

package prompt

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/models"
)

// Request carries the three prompt inputs plus their metadata
type Request struct {
	DocumentContent       string
	InputTemplateContent  string
	OutputTemplateContent string

	DocumentTitle       string
	InputTemplateTitle  string
	OutputTemplateTitle string

	DocumentFormat       string
	InputTemplateFormat  string
	OutputTemplateFormat string

	DocumentType string
}

// Service builds transformation prompts
type Service struct {
	logger arbor.ILogger
}

// NewService creates a new prompt service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Build returns the system and user prompts for a transformation request.
// The system prompt carries role, format context, document-type guidance
// and the JSON response contract. The user prompt carries the three texts
// in fenced sections.
func (s *Service) Build(req Request) (string, string) {
	if req.DocumentType == "" || !models.IsValidDocumentType(req.DocumentType) {
		req.DocumentType = models.DocumentTypeOther
	}
	if req.OutputTemplateFormat == "" {
		req.OutputTemplateFormat = models.FormatText
	}

	system := s.buildSystemPrompt(req)
	user := s.buildUserPrompt(req)

	s.logger.Debug().
		Str("document_type", req.DocumentType).
		Str("output_format", req.OutputTemplateFormat).
		Int("system_chars", len(system)).
		Int("user_chars", len(user)).
		Msg("Transformation prompts built")

	return system, user
}

func (s *Service) buildSystemPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are an expert document transformation assistant that helps convert documents ")
	b.WriteString("from one format to another based on template examples.\n\n")
	b.WriteString("You will be provided with three documents:\n")
	b.WriteString("1. INPUT DOCUMENT: The document that needs to be transformed\n")
	b.WriteString("2. INPUT TEMPLATE: A template example in a similar format to the input document\n")
	b.WriteString("3. OUTPUT TEMPLATE: A template showing the desired output format\n\n")

	fmt.Fprintf(&b, "The input document is in %s format.\n", req.DocumentFormat)
	fmt.Fprintf(&b, "The input template is in %s format.\n", req.InputTemplateFormat)
	fmt.Fprintf(&b, "The output template is in %s format.\n", req.OutputTemplateFormat)
	fmt.Fprintf(&b, "The document type is: %s\n\n", req.DocumentType)

	b.WriteString(typeGuidance(req.DocumentType))

	b.WriteString("Your task is to recognize the structure and format of both the input document and input template, ")
	b.WriteString("understand how they relate to each other, and then transform the input document to match ")
	b.WriteString("the format of the output template. Preserve all relevant information from the input document ")
	b.WriteString("while organizing it according to the output template structure.\n\n")

	b.WriteString("You MUST return a valid JSON object with the following structure:\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"file_type\": %q,\n", req.OutputTemplateFormat)
	b.WriteString("  \"content\": \"The transformed document content\"\n")
	b.WriteString("}\n\n")
	fmt.Fprintf(&b, "The 'file_type' should be '%s'.\n", req.OutputTemplateFormat)
	fmt.Fprintf(&b, "The 'content' should contain the transformed document in %s format.\n\n", req.OutputTemplateFormat)
	b.WriteString("Important: Your entire response must be a single, valid JSON object that can be parsed. ")
	b.WriteString("Do not include any explanations, comments, or text outside of the JSON object.")

	return b.String()
}

func (s *Service) buildUserPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Please transform the following document to match the format of the output template.\n\n")

	writeSection(&b, "INPUT DOCUMENT", req.DocumentTitle, req.DocumentContent)
	writeSection(&b, "INPUT TEMPLATE", req.InputTemplateTitle, req.InputTemplateContent)
	writeSection(&b, "OUTPUT TEMPLATE", req.OutputTemplateTitle, req.OutputTemplateContent)

	b.WriteString("The input document and input template are similar in format. Transform the input document ")
	b.WriteString("to match the format of the output template. Return only the transformed content.")

	return b.String()
}

func writeSection(b *strings.Builder, name, title, content string) {
	b.WriteString("# ")
	b.WriteString(name)
	if title != "" {
		fmt.Fprintf(b, " (%s)", title)
	}
	b.WriteString(":\n```\n")
	b.WriteString(content)
	b.WriteString("\n```\n\n")
}

// typeGuidance returns attention points keyed by document type
func typeGuidance(documentType string) string {
	switch documentType {
	case models.DocumentTypeLegal:
		return "As you're working with a legal document, pay special attention to:\n" +
			"- Legal terminology and phrasing\n" +
			"- Citation formats and references to statutes, cases, or regulations\n" +
			"- Formal document structure including sections, clauses and numbered paragraphs\n" +
			"- Dates, parties, and defined terms which should be preserved exactly\n" +
			"- Any disclaimers or warnings that should be maintained\n\n"
	case models.DocumentTypeRealEstate:
		return "As you're working with a real estate document, pay special attention to:\n" +
			"- Property descriptions and addresses\n" +
			"- Financial figures, prices, and payment terms\n" +
			"- Dates of transactions, inspections, and closings\n" +
			"- Party names and their roles (buyer, seller, agent, etc.)\n" +
			"- Any contingencies or conditions mentioned\n\n"
	case models.DocumentTypeContract:
		return "As you're working with a contract, pay special attention to:\n" +
			"- Parties to the agreement and their obligations\n" +
			"- Terms and conditions, especially regarding payment and deliverables\n" +
			"- Timeframes, deadlines, and effective dates\n" +
			"- Warranties, representations, and indemnities\n" +
			"- Termination clauses and dispute resolution procedures\n\n"
	case models.DocumentTypeLease:
		return "As you're working with a lease agreement, pay special attention to:\n" +
			"- Tenant and landlord information\n" +
			"- Property details and condition statements\n" +
			"- Lease terms, rent amounts, and payment schedules\n" +
			"- Security deposits and fees\n" +
			"- Maintenance responsibilities and terms for entry\n\n"
	case models.DocumentTypeDeposition:
		return "You are turning a deposition transcript into a UTF-8 CSV with exactly four columns " +
			"in this order: (blank), From (Pg/Line), To (Pg/Line), Summary.\n\n" +
			"Fixed metadata rows: row 2 column 1 holds the witness name, row 3 column 1 the " +
			"deposition date (e.g. 28-Aug-23), row 4 column 1 the deposition type (e.g. Video Depo). " +
			"Extract these from the transcript header and leave them blank if missing; all other " +
			"columns in those rows stay blank.\n\n" +
			"From row 5 on, each row captures one coherent fact block. Column 1 stays blank, " +
			"column 2 holds the first page/line (e.g. 6/9), column 3 the last page/line, and " +
			"column 4 a plain-English present-tense summary. The entire summary must go in that " +
			"one cell with no line breaks and no commas anywhere; replace commas with semicolons " +
			"or rephrase.\n\n" +
			"Preserve the original appearance order, never add or delete columns, and output a " +
			"clean, complete CSV with no explanations, truncation markers or formatting notes.\n\n"
	default:
		return "Pay special attention to:\n" +
			"- The document's main purpose and key points\n" +
			"- Any structured data, tables, or lists\n" +
			"- Important dates, names, and numerical values\n" +
			"- The logical flow and organization of information\n\n"
	}
}
