package domain

// Heading is a single h1..h6 element found in a page, in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Extraction is the part of PageData derived purely from the markup.
type Extraction struct {
	Title           string    `json:"title"`
	FirstHeading    string    `json:"firstHeading"`
	Headings        []Heading `json:"headings"`
	MetaDescription *string   `json:"metaDescription,omitempty"`
}

// PageData is the JSON document served for a content path.
type PageData struct {
	Path               string    `json:"path"`
	Timestamp          string    `json:"timestamp"`
	ExtractedAt        int64     `json:"extractedAt"`
	Title              string    `json:"title"`
	FirstHeading       string    `json:"firstHeading"`
	Headings           []Heading `json:"headings"`
	MetaDescription    *string   `json:"metaDescription,omitempty"`
	RawMarkup          string    `json:"rawMarkup,omitempty"`
	ContentLength      int       `json:"contentLength"`
	StatusCode         int       `json:"statusCode"`
	ReceiverIdentifier *string   `json:"receiverIdentifier,omitempty"`
}

// Clone returns a deep copy so cached values are never shared with callers.
func (p *PageData) Clone() *PageData {
	if p == nil {
		return nil
	}
	out := *p
	if p.Headings != nil {
		out.Headings = make([]Heading, len(p.Headings))
		copy(out.Headings, p.Headings)
	}
	out.MetaDescription = cloneString(p.MetaDescription)
	out.ReceiverIdentifier = cloneString(p.ReceiverIdentifier)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ErrorBody is the JSON envelope written for failed API requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message   string    `json:"message"`
	Type      ErrorKind `json:"type"`
	Timestamp string    `json:"timestamp"`
}
