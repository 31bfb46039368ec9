package imagepress

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/oklog/ulid/v2"
)

// OperationKind records which batch transform was last applied successfully.
// It selects the "current" variant of every image for preview and download.
type OperationKind string

const (
	OpNone             OperationKind = "none"
	OpCompressWithWebP OperationKind = "compressWithWebp"
	OpCompressWithJPEG OperationKind = "compressWithJpeg"
	OpWatermark        OperationKind = "watermark"
	OpBasicOperation   OperationKind = "basicOperation"
)

// AllOperationKinds lists every state of the operation tracker.
var AllOperationKinds = []OperationKind{OpNone, OpCompressWithWebP, OpCompressWithJPEG, OpWatermark, OpBasicOperation}

// ParseOperationKind accepts the canonical camelCase name as well as
// kebab-case and snake_case spellings ("compress-with-webp").
func ParseOperationKind(s string) (OperationKind, error) {
	want := strcase.ToLowerCamel(strings.TrimSpace(s))
	for _, k := range AllOperationKinds {
		if strings.EqualFold(string(k), want) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// Label returns a human readable name ("Compress With Webp").
func (k OperationKind) Label() string {
	words := strings.Split(strcase.ToDelimited(string(k), ' '), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// CompressKind returns the tracker state reached by a successful compression
// to format f.
func CompressKind(f Format) OperationKind {
	if f == FormatJPEG {
		return OpCompressWithJPEG
	}
	return OpCompressWithWebP
}

// NewBatchID returns a lexicographically sortable identifier for one batch
// invocation. IDs sort by creation time, which keeps log output ordered.
//
// # Example
//
//	id := imagepress.NewBatchID()
//	// "01J9Z3K6W8T9Y1N3B5C7D9F1H3"
func NewBatchID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ErrValidation marks a local precondition failure. No network call is made
// and no state changes when an operation returns an error wrapping it.
var ErrValidation = errors.New("validation failed")

// ValidationError carries the reason a request was rejected locally.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid returns a ValidationError with the given reason.
func Invalid(reason string) error {
	return &ValidationError{Reason: reason}
}
