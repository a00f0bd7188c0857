package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
)

// SchemaVersion is the envelope version every response carries.
const SchemaVersion = "v1"

// Response is the envelope every eco command prints.
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            any               `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// recoverableError mirrors models.RecoverableError without importing it.
type recoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// Success wraps a successful response with data
func Success(data any) Response {
	return Response{
		SchemaVersion: SchemaVersion,
		Success:       true,
		Data:          data,
	}
}

// Error wraps err in a failed response. Errors that carry a code, context
// and remediation hint have those copied into the envelope.
func Error(err error) Response {
	resp := Response{
		SchemaVersion: SchemaVersion,
		Success:       false,
		Error:         err.Error(),
	}
	var re recoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

// Config controls where and how JSON is written.
type Config struct {
	Writer io.Writer
	Pretty bool
}

type outputEnv struct {
	Pretty bool `env:"ECO_PRETTY_JSON"`
}

// DefaultConfig writes compact JSON to stdout; ECO_PRETTY_JSON=1 indents it.
func DefaultConfig() Config {
	var e outputEnv
	if err := env.Parse(&e); err != nil {
		e.Pretty = false
	}
	return Config{Writer: os.Stdout, Pretty: e.Pretty}
}

// PrintWith encodes v as one JSON document using cfg.
func PrintWith(cfg Config, v any) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints a value as JSON to stdout
func Print(v any) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a success response
func PrintSuccess(data any) error {
	return Print(Success(data))
}

// PrintError prints an error response
func PrintError(err error) error {
	return Print(Error(err))
}
