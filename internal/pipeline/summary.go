package pipeline

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Summary is the outcome of a run.
type Summary struct {
	// Succeeded lists projects uploaded with their annotations.
	Succeeded []string `json:"succeeded"`
	// ImagesOnly lists projects uploaded without annotations.
	ImagesOnly []string `json:"imagesOnly"`
	// Failed lists projects that could not be imported at all.
	Failed []string `json:"failed"`
	// FailureReasons maps each distinct failure message to the projects it hit.
	FailureReasons map[string][]string `json:"failureReasons,omitempty"`
	// Unsupported counts skipped non-image projects by type.
	Unsupported map[string]int `json:"unsupported,omitempty"`
}

func newSummary() *Summary {
	return &Summary{FailureReasons: map[string][]string{}}
}

// Imported returns the number of projects that reached the platform.
func (s *Summary) Imported() int {
	return len(s.Succeeded) + len(s.ImagesOnly)
}

func (s *Summary) succeeded(name string) {
	s.Succeeded = append(s.Succeeded, name)
}

func (s *Summary) imagesOnly(name, reason string) {
	s.ImagesOnly = append(s.ImagesOnly, name)
	s.FailureReasons[reason] = append(s.FailureReasons[reason], name)
}

func (s *Summary) failed(name, reason string) {
	s.Failed = append(s.Failed, name)
	s.FailureReasons[reason] = append(s.FailureReasons[reason], name)
}

// WriteText writes a human-readable summary to w.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	b.WriteString("============================================\n")
	b.WriteString("Import summary\n")
	b.WriteString("============================================\n")
	fmt.Fprintf(&b, "Imported with annotations: %d\n", len(s.Succeeded))
	writeNames(&b, s.Succeeded)
	fmt.Fprintf(&b, "Imported as images only:   %d\n", len(s.ImagesOnly))
	writeNames(&b, s.ImagesOnly)
	fmt.Fprintf(&b, "Failed:                    %d\n", len(s.Failed))
	writeNames(&b, s.Failed)

	if len(s.FailureReasons) > 0 {
		b.WriteString("--------------------------------------------\n")
		b.WriteString("Problems:\n")
		reasons := make([]string, 0, len(s.FailureReasons))
		for r := range s.FailureReasons {
			reasons = append(reasons, r)
		}
		slices.Sort(reasons)
		for _, r := range reasons {
			fmt.Fprintf(&b, "  %s: %s\n", r, strings.Join(s.FailureReasons[r], ", "))
		}
	}
	if len(s.Unsupported) > 0 {
		b.WriteString("--------------------------------------------\n")
		b.WriteString("Skipped non-image projects:\n")
		types := make([]string, 0, len(s.Unsupported))
		for t := range s.Unsupported {
			types = append(types, t)
		}
		slices.Sort(types)
		for _, t := range types {
			fmt.Fprintf(&b, "  %s: %d\n", t, s.Unsupported[t])
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNames(b *strings.Builder, names []string) {
	for _, n := range names {
		fmt.Fprintf(b, "  - %s\n", n)
	}
}
