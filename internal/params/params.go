// Package params decodes the flattened JSON parameter files accepted by the
// compose CLI into planner inputs.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/maauso/mediacompose-api/internal/compose"
)

// Static errors for parameter decoding.
var (
	// ErrMalformed is returned when the parameter document or one of its values
	// cannot be decoded.
	ErrMalformed = errors.New("params: malformed parameters")
	// ErrMediaFilesRequired is returned when mediaFilesJson is missing or empty.
	ErrMediaFilesRequired = errors.New("params: the 'Media Files (JSON Array)' parameter is required")
	// ErrOutputPathRequired is returned when a file output is requested without outputFilePath.
	ErrOutputPathRequired = errors.New("params: output file path is required")
)

// Overlay is a decoded overlay parameter file.
type Overlay struct {
	// Slots holds the non-empty layer slots in slot order.
	Slots []compose.Slot
	// OutputAsBinary returns the result inline instead of writing OutputFilePath.
	OutputAsBinary bool
	OutputFilePath string
}

// Append is a decoded append parameter file.
type Append struct {
	Paths []string
	// OutputAsFilePath writes OutputFilePath instead of returning the result inline.
	OutputAsFilePath bool
	OutputFilePath   string
}

type document map[string]json.RawMessage

func readDocument(r io.Reader) (document, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return doc, nil
}

func readFile(path string) (document, error) {
	f, err := os.Open(path) // #nosec G304 - path is the CLI argument
	if err != nil {
		return nil, fmt.Errorf("open parameters: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readDocument(f)
}

// flag reads a boolean that may be encoded as a JSON bool or as a string.
// Missing and null keys yield def.
func (d document) flag(key string, def bool) (bool, error) {
	raw, ok := d[key]
	if !ok || isNull(raw) {
		return def, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrMalformed, key)
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrMalformed, key)
	}
	return b, nil
}

func (d document) str(key string) (string, error) {
	raw, ok := d[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformed, key)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
