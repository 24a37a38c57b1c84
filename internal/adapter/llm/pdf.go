package llm

import (
	"fmt"
	"math"
	"strings"

	"prism-chat/internal/domain"
)

// parserDisplayNames maps parsing-service identifiers to display names.
var parserDisplayNames = map[string]string{
	"pdf-co": "PDF.co (PREMIUM)",
}

func parserDisplayName(service string) string {
	if name, ok := parserDisplayNames[service]; ok {
		return name
	}
	return service
}

// formatFileSize renders a byte count in human form ("1.5 MB").
func formatFileSize(bytes int64) string {
	if bytes == 0 {
		return "0 Bytes"
	}
	const k = 1024
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	v := float64(bytes) / math.Pow(k, float64(i))
	return fmt.Sprintf("%s %s", trimZeros(fmt.Sprintf("%.2f", v)), sizes[i])
}

func trimZeros(s string) string {
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// formatPDFContent builds the natural-language block describing a parsed PDF
// that is injected as a text part into OpenAI and Gemini payloads. The block
// structure is load-bearing: the model's answers depend on its completeness,
// so every section (header, parser identity, feature summary, text or the
// no-text diagnostic, tables, image descriptions, closing request) is always
// emitted in the same order.
func formatPDFContent(att domain.FileAttachment) string {
	fileName := att.Name
	fileSize := formatFileSize(att.Size)

	if att.PDF == nil {
		return fmt.Sprintf("\n\n📄 **PDF File: %s** (%s)\n\n⚠️ PDF parsing was not available. Please analyze this PDF based on the filename and provide general guidance about PDF analysis.", fileName, fileSize)
	}

	pdf := att.PDF
	var b strings.Builder

	fmt.Fprintf(&b, "\n\n📄 **PDF Document Analysis: %s** (%s)\n\n", fileName, fileSize)
	fmt.Fprintf(&b, "🔧 **Parsed with:** %s\n", parserDisplayName(pdf.Metadata.Service))
	fmt.Fprintf(&b, "📊 **Document Info:** %d page(s)\n\n", pdf.Metadata.Pages)

	var features []string
	if pdf.Metadata.HasText && pdf.Text != "" {
		features = append(features, fmt.Sprintf("📝 Text content (%d characters)", len(pdf.Text)))
	}
	if pdf.Metadata.HasImages && len(pdf.Images) > 0 {
		features = append(features, fmt.Sprintf("🖼️ %d image(s)", len(pdf.Images)))
	}
	if pdf.Metadata.HasTables && len(pdf.Tables) > 0 {
		features = append(features, fmt.Sprintf("📋 %d table(s)", len(pdf.Tables)))
	}
	if len(features) > 0 {
		fmt.Fprintf(&b, "✨ **Extracted Content:** %s\n\n", strings.Join(features, ", "))
	}

	if strings.TrimSpace(pdf.Text) != "" {
		fmt.Fprintf(&b, "📝 **Document Text Content:**\n\n%s\n\n", pdf.Text)
	} else {
		fmt.Fprintf(&b, `⚠️ **No text content was extracted from this PDF.**

**Possible reasons:**
- The PDF contains only images/scanned content (requires OCR)
- The PDF is password protected
- The PDF has complex formatting that wasn't parsed correctly
- The parsing service encountered a technical issue

**What you can do:**
- Try asking me to describe what I can see if there are images
- Ask me to analyze the document structure or layout
- Request a different type of analysis based on the filename: "%s"

**PDF Information Available:**
- File name: %s
- File size: %s
- Pages: %d
- Service used: %s

`, fileName, fileName, fileSize, pdf.Metadata.Pages, parserDisplayName(pdf.Metadata.Service))
	}

	if len(pdf.Tables) > 0 {
		fmt.Fprintf(&b, "📋 **Tables Found (%d):**\n\n", len(pdf.Tables))
		for i, table := range pdf.Tables {
			fmt.Fprintf(&b, "**Table %d:**\n", i+1)
			switch {
			case table.HTML != "":
				fmt.Fprintf(&b, "%s\n\n", table.HTML)
			case table.Text != "":
				fmt.Fprintf(&b, "%s\n\n", table.Text)
			}
		}
	}

	if len(pdf.Images) > 0 {
		fmt.Fprintf(&b, "🖼️ **Images Found (%d):**\n\n", len(pdf.Images))
		for i, img := range pdf.Images {
			desc := img.Description
			if desc == "" {
				desc = "Image from PDF page"
			}
			fmt.Fprintf(&b, "**Image %d:** %s\n", i+1, desc)
		}
		b.WriteString("\n(Images are included separately for visual analysis)\n\n")
	}

	b.WriteString("🤖 **Analysis Request:** Please analyze this PDF document thoroughly. Pay attention to the extracted text, tables, and any images. Provide insights, summaries, or answer questions based on the content.")

	return b.String()
}

// base64Payload strips a data-URL prefix ("data:image/png;base64,") if
// present, returning the raw base64 body expected by inline_data parts.
func base64Payload(s string) string {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+1:]
	}
	return s
}
