package export

import (
	"github.com/beevik/etree"

	"github.com/sidkik/iris-sync/pkg/errors"
)

// StripVolatile removes the timestamp (ts) and server version (zv)
// attributes from an export's root element, so re-exports of unchanged data
// produce identical files. With stripValues, the value attribute of every
// item element is removed as well; used for deployable settings exports
// that should record which settings exist without their current values.
//
// The returned document carries an XML declaration and a trailing newline.
func StripVolatile(data string, stripValues bool) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(data); err != nil {
		return "", errors.WithContext(err, "parse export XML")
	}

	// Drop any declaration the server emitted; a fresh one is prepended
	// below so the output is uniform.
	for _, token := range doc.Child {
		if pi, ok := token.(*etree.ProcInst); ok && pi.Target == "xml" {
			doc.RemoveChild(pi)
		}
	}

	root := doc.Root()
	if root == nil {
		return "", errors.New("export XML has no root element")
	}
	root.RemoveAttr("ts")
	root.RemoveAttr("zv")

	if stripValues {
		for _, item := range root.FindElements("//item") {
			item.RemoveAttr("value")
		}
	}

	body, err := doc.WriteToString()
	if err != nil {
		return "", errors.WithContext(err, "serialize export XML")
	}

	out := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + body
	if out[len(out)-1] != '\n' {
		out += "\n"
	}
	return out, nil
}
