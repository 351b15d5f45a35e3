package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// ErrParse reports that a payload could not be turned into a document.
// It is never terminal: the processor moves on to the next strategy.
var ErrParse = errors.New("parse html")

// Payload is what an extraction step works from: either a parsed document or
// the raw bytes. The concrete types are Parsed and Raw.
type Payload interface {
	payload()
}

// Parsed holds the single parsed document for a page. Title, links, and body
// text are all read from this one document.
type Parsed struct {
	Doc *goquery.Document
}

// Raw holds an undecoded payload that could not be parsed.
type Raw struct {
	Body []byte
}

func (Parsed) payload() {}
func (Raw) payload()    {}

// parseDocument decodes body using the declared content type (an empty one
// means UTF-8) and parses it once.
func parseDocument(body []byte, contentType string) (doc *goquery.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrParse, r)
		}
	}()

	var reader io.Reader = bytes.NewReader(body)
	if contentType != "" {
		decoded, cerr := charset.NewReader(reader, contentType)
		if cerr != nil {
			return nil, fmt.Errorf("%w: decode charset: %w", ErrParse, cerr)
		}
		reader = decoded
	}
	root, err := html.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return goquery.NewDocumentFromNode(root), nil
}
