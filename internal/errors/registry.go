package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Not found (A100-A109)
	// ============================================

	"A100": {
		Category: CategoryNotFound,
		Message:  "File not found",
	},
	"A101": {
		Category:   CategoryNotFound,
		Message:    "Bundle entry not found",
		Suggestion: "Request a file, or a directory containing index.html or index.htm",
	},

	// ============================================
	// References (A110-A119)
	// ============================================

	"A110": {
		Category: CategoryReference,
		Message:  "Reference is not statically resolvable",
	},
	"A111": {
		Category: CategoryReference,
		Message:  "Source could not be parsed",
	},

	// ============================================
	// Transport (A120-A129)
	// ============================================

	"A120": {
		Category:   CategoryTransport,
		Message:    "No connection with server",
		Suggestion: "Wait for the sync channel to come online and retry",
	},
	"A121": {
		Category: CategoryTransport,
		Message:  "Remote request failed",
	},
	"A122": {
		Category: CategoryTransport,
		Message:  "Malformed message",
	},
	"A123": {
		Category: CategoryTransport,
		Message:  "Unknown request",
	},

	// ============================================
	// Subprocess (A130-A139)
	// ============================================

	"A130": {
		Category: CategorySubprocess,
		Message:  "Build process exited with non-zero code",
	},
	"A131": {
		Category: CategorySubprocess,
		Message:  "Error on build",
	},
	"A132": {
		Category: CategorySubprocess,
		Message:  "Build process produced no result",
	},
	"A133": {
		Category: CategorySubprocess,
		Message:  "Process could not be started",
	},

	// ============================================
	// Protocol anomalies (A140-A149)
	// ============================================

	"A140": {
		Category: CategoryProtocol,
		Message:  "Subscriber anomaly",
	},

	// ============================================
	// Configuration (A150-A159)
	// ============================================

	"A150": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	"A151": {
		Category:   CategoryConfig,
		Message:    "Configuration file could not be read",
		Suggestion: "Check that assetsync.json is valid JSON",
	},
	"A152": {
		Category:   CategoryCLI,
		Message:    "Unknown project template",
		Suggestion: "Available templates: minimal, modules",
	},

	// ============================================
	// Filesystem (A160-A169)
	// ============================================

	"A160": {
		Category: CategoryNotFound,
		Message:  "Path escapes the base directory",
	},
	"A161": {
		Category: CategoryNotFound,
		Message:  "File already exists",
	},
	"A162": {
		Category:   CategoryCLI,
		Message:    "Editor is not configured",
		Suggestion: "Set \"editor\" in assetsync.json or ASSETSYNC_EDITOR",
	},

	// ============================================
	// Publication (A170-A179)
	// ============================================

	"A170": {
		Category:   CategoryTransport,
		Message:    "Bundle could not be published",
		Suggestion: "Check the AWS credentials and that the publish bucket exists",
	},
}

// GetAllCodes returns all registered error codes in ascending order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
