package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrCanceled is returned when the user dismisses the folder chooser.
var ErrCanceled = errors.New("folder selection canceled")

// PickDirectory opens a native folder chooser. When no dialog can be shown
// (e.g. a headless session), it falls back to PromptForDirectory on stdin.
func PickDirectory() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Directory(),
		zenity.Title("Select project folder to import"),
	)
	if err == nil {
		return selected, nil
	}
	if errors.Is(err, zenity.ErrCanceled) {
		return "", ErrCanceled
	}
	log.Warn().Err(err).Msg("Folder chooser unavailable, prompting on the terminal")
	return PromptForDirectory(os.Stdin, os.Stdout), nil
}

// PromptForDirectory prompts the user for a directory path on in.
// Returns the current directory if the user enters nothing.
func PromptForDirectory(in io.Reader, out io.Writer) string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	fmt.Fprintf(out, "Directory [%s]: ", cwd)

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input, using current directory")
		return cwd
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return cwd
	}

	return input
}
