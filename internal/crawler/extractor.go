package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/pagejson-service/internal/domain"
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

// ExtractPageData parses HTML content and extracts the page title, headings
// and meta description. The same markup always yields the same Extraction.
func ExtractPageData(htmlContent string) (*domain.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, domain.NewError(domain.KindParse, "failed to parse markup", 0, err)
	}

	data := &domain.Extraction{
		Title:        doc.Find("title").First().Text(),
		FirstHeading: strings.TrimSpace(doc.Find("h1").First().Text()),
		Headings:     []domain.Heading{},
	}

	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(name, "description") {
			return true
		}
		if content, ok := s.Attr("content"); ok {
			desc := strings.TrimSpace(content)
			data.MetaDescription = &desc
		}
		return false
	})

	// Selector groups match in document order.
	doc.Find(headingSelector).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		level, err := headingLevel(goquery.NodeName(s))
		if err != nil {
			return
		}
		data.Headings = append(data.Headings, domain.Heading{Level: level, Text: text})
	})

	return data, nil
}

func headingLevel(tag string) (int, error) {
	if len(tag) != 2 || tag[0] != 'h' || tag[1] < '1' || tag[1] > '6' {
		return 0, fmt.Errorf("not a heading: %s", tag)
	}
	return int(tag[1] - '0'), nil
}
