// -----------------------------------------------------------------------
// Normalize Service - Convert stored documents to plain text for the
// transformation pipeline. PDF extraction uses pdfcpu, HTML conversion
// uses html-to-markdown.
// -----------------------------------------------------------------------

package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/models"
)

// ErrContentUnavailable is returned when a document has no usable content
var ErrContentUnavailable = errors.New("document content unavailable")

// Service normalizes document content into plain text
type Service struct {
	logger  arbor.ILogger
	tempDir string
}

// NewService creates a new normalize service
func NewService(logger arbor.ILogger) *Service {
	tempDir := filepath.Join(os.TempDir(), "muto-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Service{
		logger:  logger,
		tempDir: tempDir,
	}
}

// Normalize converts a document to plain text suitable for prompting.
// Text, markdown and CSV pass through with whitespace cleanup. HTML is
// converted to markdown. PDF text is extracted from the raw bytes.
func (s *Service) Normalize(ctx context.Context, doc *models.Document) (string, error) {
	if doc == nil {
		return "", ErrContentUnavailable
	}

	var text string
	var err error

	switch doc.Format {
	case models.FormatPDF:
		text, err = s.extractPDF(ctx, doc)
		if err != nil {
			return "", err
		}
	case models.FormatHTML:
		text, err = s.htmlToMarkdown(doc.Content)
		if err != nil {
			return "", err
		}
	default:
		// text, markdown, csv
		text = doc.Content
	}

	text = collapseWhitespace(text)
	if text == "" {
		return "", ErrContentUnavailable
	}

	s.logger.Debug().
		Str("document_id", doc.ID).
		Str("format", doc.Format).
		Int("chars", len(text)).
		Msg("Document normalized")

	return text, nil
}

// htmlToMarkdown converts HTML to markdown, falling back to tag stripping
// when conversion fails or produces nothing.
func (s *Service) htmlToMarkdown(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	converter := md.NewConverter("", true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		s.logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using fallback")
		return stripHTMLTags(html), nil
	}

	if strings.TrimSpace(converted) == "" && html != "" {
		s.logger.Warn().
			Int("html_length", len(html)).
			Msg("HTML to markdown conversion produced empty output, applying fallback")
		return stripHTMLTags(html), nil
	}

	return converted, nil
}

// extractPDF extracts text from the raw PDF bytes. pdfcpu works on files,
// so the bytes go through a temp file.
func (s *Service) extractPDF(ctx context.Context, doc *models.Document) (string, error) {
	if len(doc.Raw) == 0 {
		return "", ErrContentUnavailable
	}

	tempFile := filepath.Join(s.tempDir, fmt.Sprintf("extract_%s_%d.pdf", doc.ID, os.Getpid()))
	if err := os.WriteFile(tempFile, doc.Raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(s.tempDir, fmt.Sprintf("pages_%s_%d", doc.ID, os.Getpid()))
	os.MkdirAll(outDir, 0755)
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("Failed to extract PDF content")
		return "", ErrContentUnavailable
	}

	files, _ := os.ReadDir(outDir)
	pageTexts := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	pageNums := make([]int, 0, len(pageTexts))
	for n := range pageTexts {
		pageNums = append(pageNums, n)
	}
	sort.Ints(pageNums)

	var builder strings.Builder
	for i, n := range pageNums {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(pageTexts[n])
	}

	s.logger.Debug().
		Str("document_id", doc.ID).
		Int("pages", pageCount).
		Msg("PDF text extracted")

	return builder.String(), nil
}

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	multiNLs = regexp.MustCompile(`\n{3,}`)
)

// stripHTMLTags removes basic HTML tags for fallback cases
func stripHTMLTags(htmlStr string) string {
	stripped := tagRe.ReplaceAllString(htmlStr, "")

	cleaned := strings.ReplaceAll(stripped, "&amp;", "&")
	cleaned = strings.ReplaceAll(cleaned, "&lt;", "<")
	cleaned = strings.ReplaceAll(cleaned, "&gt;", ">")
	cleaned = strings.ReplaceAll(cleaned, "&quot;", "\"")
	cleaned = strings.ReplaceAll(cleaned, "&#39;", "'")
	cleaned = strings.ReplaceAll(cleaned, "&nbsp;", " ")

	return cleaned
}

// collapseWhitespace trims lines, squeezes runs of spaces and tabs, and
// caps consecutive blank lines at one.
func collapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = multiNLs.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
