package params

import (
	"fmt"
	"io"

	"github.com/maauso/mediacompose-api/internal/compose"
)

// LoadOverlay reads an overlay parameter file from disk.
func LoadOverlay(path string) (*Overlay, error) {
	doc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return decodeOverlay(doc)
}

// DecodeOverlay reads overlay parameters from r.
//
// For each slot N in 1..compose.MaxLayers the keys layer{N}IsBinary,
// layer{N}BinaryPropertyName, layer{N}FilePath, layer{N}Loop and
// layer{N}TrimToThis are consulted. A binary slot takes its source from
// layer{N}BinaryPropertyName, any other slot from layer{N}FilePath. Slots
// without a source are left out.
func DecodeOverlay(r io.Reader) (*Overlay, error) {
	doc, err := readDocument(r)
	if err != nil {
		return nil, err
	}
	return decodeOverlay(doc)
}

func decodeOverlay(doc document) (*Overlay, error) {
	out := &Overlay{}

	for n := 1; n <= compose.MaxLayers; n++ {
		slot, ok, err := decodeSlot(doc, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Slots = append(out.Slots, slot)
		}
	}

	var err error
	if out.OutputAsBinary, err = doc.flag("outputAsBinary", true); err != nil {
		return nil, err
	}
	if out.OutputFilePath, err = doc.str("outputFilePath"); err != nil {
		return nil, err
	}
	if !out.OutputAsBinary && out.OutputFilePath == "" {
		return nil, ErrOutputPathRequired
	}
	return out, nil
}

func decodeSlot(doc document, n int) (compose.Slot, bool, error) {
	key := func(name string) string { return fmt.Sprintf("layer%d%s", n, name) }

	isBinary, err := doc.flag(key("IsBinary"), false)
	if err != nil {
		return compose.Slot{}, false, err
	}

	slot := compose.Slot{Number: n}
	if isBinary {
		name, err := doc.str(key("BinaryPropertyName"))
		if err != nil {
			return compose.Slot{}, false, err
		}
		if name != "" {
			slot.Source = compose.BinaryRef(name)
		}
	} else {
		path, err := doc.str(key("FilePath"))
		if err != nil {
			return compose.Slot{}, false, err
		}
		if path != "" {
			slot.Source = compose.FilePath(path)
		}
	}
	if slot.Source == nil {
		return compose.Slot{}, false, nil
	}

	if slot.Loop, err = doc.flag(key("Loop"), false); err != nil {
		return compose.Slot{}, false, err
	}
	if slot.TrimToThis, err = doc.flag(key("TrimToThis"), false); err != nil {
		return compose.Slot{}, false, err
	}
	return slot, true, nil
}
