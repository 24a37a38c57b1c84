package domain

// Attachment kinds.
const (
	AttachmentImage = "image"
	AttachmentPDF   = "pdf"
)

// FileAttachment is a file bound to a chat turn, produced by the external
// file-processing collaborator before the message reaches the gateway.
// Base64 holds a data URL ("data:image/png;base64,....") for images and the
// raw document for PDFs. Immutable once built.
type FileAttachment struct {
	Name     string   `json:"name"`
	Kind     string   `json:"type"`
	Size     int64    `json:"size"`
	MimeType string   `json:"mime_type"`
	Base64   string   `json:"base64"`
	Text     string   `json:"text,omitempty"`
	PDF      *PDFData `json:"pdf_data,omitempty"`
}

// PDFData is the structured result of parsing a PDF attachment.
type PDFData struct {
	Text     string      `json:"text"`
	Images   []PDFImage  `json:"images"`
	Tables   []PDFTable  `json:"tables"`
	Metadata PDFMetadata `json:"metadata"`
}

// PDFImage is an image extracted from a PDF page, re-encoded as PNG.
type PDFImage struct {
	ID          string `json:"id"`
	Base64      string `json:"base64"`
	Description string `json:"description,omitempty"`
}

// PDFTable is a table extracted from a PDF, in both HTML and plain text form.
type PDFTable struct {
	ID   string `json:"id"`
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
}

// PDFMetadata summarizes what the parser found.
type PDFMetadata struct {
	Service   string `json:"service"`
	Pages     int    `json:"pages"`
	HasText   bool   `json:"has_text"`
	HasImages bool   `json:"has_images"`
	HasTables bool   `json:"has_tables"`
}
