package config

import (
	"os"
	"strings"
)

// AIAssistDisabled is a kill switch for the AI-assisted generation path.
// When set, reports approved in ai_assisted mode are generated with the
// deterministic template renderer only.
//
// Set via env:
// - DISABLE_AI_ASSIST=true
func AIAssistDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_AI_ASSIST")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// TransmittalAppendixDisabled skips the transmittal appendix resolution after
// the section loop. Intended for environments where the document register is
// not yet migrated.
//
// Set via env:
// - DISABLE_TRANSMITTAL_APPENDIX=true
func TransmittalAppendixDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_TRANSMITTAL_APPENDIX")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
