package params

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/maauso/mediacompose-api/internal/compose"
)

type mediaFile struct {
	Path string `json:"path"`
}

// LoadAppend reads an append parameter file from disk.
func LoadAppend(path string) (*Append, error) {
	doc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return decodeAppend(doc)
}

// DecodeAppend reads append parameters from r.
//
// mediaFilesJson is a JSON array of {"path": ...} objects, either embedded as
// a string or given directly. Entries keep their order; an entry without a
// path is kept as "" so the planner can report its position.
func DecodeAppend(r io.Reader) (*Append, error) {
	doc, err := readDocument(r)
	if err != nil {
		return nil, err
	}
	return decodeAppend(doc)
}

func decodeAppend(doc document) (*Append, error) {
	files, err := mediaFiles(doc)
	if err != nil {
		return nil, err
	}
	if len(files) < compose.MinAppendFiles {
		return nil, fmt.Errorf("%w: got %d", compose.ErrTooFewFiles, len(files))
	}

	out := &Append{Paths: make([]string, len(files))}
	for i, f := range files {
		out.Paths[i] = f.Path
	}

	if out.OutputAsFilePath, err = doc.flag("outputAsFilePath", true); err != nil {
		return nil, err
	}
	if out.OutputFilePath, err = doc.str("outputFilePath"); err != nil {
		return nil, err
	}
	if out.OutputAsFilePath && out.OutputFilePath == "" {
		return nil, ErrOutputPathRequired
	}
	return out, nil
}

func mediaFiles(doc document) ([]mediaFile, error) {
	raw, ok := doc["mediaFilesJson"]
	if !ok || isNull(raw) {
		return nil, ErrMediaFilesRequired
	}

	// a string holds the array as embedded JSON text
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, ErrMediaFilesRequired
		}
		raw = json.RawMessage(text)
	}

	var files []mediaFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("%w: mediaFilesJson must be a JSON array of objects: %w", ErrMalformed, err)
	}
	return files, nil
}
