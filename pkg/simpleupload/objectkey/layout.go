// Package objectkey derives blob store keys for uploads and submission outputs.
package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Layout builds keys under a fixed prefix:
//
//	uploads:  {prefix}/{object_id}
//	outputs:  {prefix}/outputs/{submission_id}/{filename}
type Layout struct {
	Prefix string
}

// New returns a Layout for prefix. Surrounding slashes are dropped.
func New(prefix string) Layout {
	return Layout{Prefix: strings.Trim(prefix, "/")}
}

// Upload returns the key the upload proxy writes the object's bytes to.
func (l Layout) Upload(objectID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", l.Prefix, objectID)
}

// OutputsPrefix returns the key prefix holding a submission's output objects.
// It always ends with a slash so it never matches a sibling submission.
func (l Layout) OutputsPrefix(submissionID uuid.UUID) string {
	return fmt.Sprintf("%s/outputs/%s/", l.Prefix, submissionID)
}

// Output returns the key of one output object of a submission.
func (l Layout) Output(submissionID uuid.UUID, filename string) string {
	return l.OutputsPrefix(submissionID) + sanitizeFilename(filename)
}

// sanitizeFilename keeps output keys inside the submission's prefix.
func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(filename)
}
