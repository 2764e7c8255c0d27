package models

type ReportStatus string

const (
	ReportStatusDraft      ReportStatus = "draft"
	ReportStatusTocPending ReportStatus = "toc_pending"
	ReportStatusGenerating ReportStatus = "generating"
	ReportStatusComplete   ReportStatus = "complete"
	ReportStatusFailed     ReportStatus = "failed"
)

func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusDraft, ReportStatusTocPending, ReportStatusGenerating, ReportStatusComplete, ReportStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a generation run has ended in this status.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusComplete || s == ReportStatusFailed
}

type SectionStatus string

// Sections never end in a failed status: a failed generation attempt is
// written back as complete with an inline error marker in the content.
const (
	SectionStatusPending    SectionStatus = "pending"
	SectionStatusGenerating SectionStatus = "generating"
	SectionStatusComplete   SectionStatus = "complete"
)

type GenerationMode string

const (
	GenerationModeDataOnly   GenerationMode = "data_only"
	GenerationModeAIAssisted GenerationMode = "ai_assisted"
)

func (m GenerationMode) IsValid() bool {
	return m == GenerationModeDataOnly || m == GenerationModeAIAssisted
}

type ContentLength string

const (
	ContentLengthConcise  ContentLength = "concise"
	ContentLengthExtended ContentLength = "extended"
)

func (l ContentLength) IsValid() bool {
	return l == ContentLengthConcise || l == ContentLengthExtended
}
