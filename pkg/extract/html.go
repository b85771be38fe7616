package extract

import (
	"bytes"
	"context"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

func extractHTML(_ context.Context, path string, meta map[string]string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	if title := pageTitle(doc); title != "" {
		meta[MetaTitle] = title
	}
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok && strings.TrimSpace(desc) != "" {
		meta[MetaDescription] = strings.TrimSpace(desc)
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok && lang != "" {
		meta[MetaLanguage] = lang
	}
	meta[MetaContentType] = "text/html"

	doc.Find("script, style, noscript").Remove()

	converter := md.NewConverter("", true, nil)
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	markdown := strings.TrimSpace(converter.Convert(body))
	if markdown == "" {
		markdown = collapseWhitespace(body.Text())
	}
	return markdown, nil
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
