// Package models contains the domain types shared by the crawler, parsers,
// normalizer and reconciler.
package models

import "strings"

// DataType identifies the publication format of a source.
type DataType string

// Supported publication formats.
const (
	DataTypePDF       DataType = "pdf"
	DataTypeImage     DataType = "image"
	DataTypeHTMLTable DataType = "html-table"
	DataTypeHTMLList  DataType = "html-list"
	DataTypeAPI       DataType = "api"
)

// ParseDataType maps config spellings to a DataType. The short crawler type
// names used in the SOURCES environment variable are accepted too.
func ParseDataType(s string) (DataType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return DataTypePDF, true
	case "image", "img":
		return DataTypeImage, true
	case "html-table", "table":
		return DataTypeHTMLTable, true
	case "html-list", "list":
		return DataTypeHTMLList, true
	case "api":
		return DataTypeAPI, true
	default:
		return "", false
	}
}

// DataSource describes one publishing agency page. Built once at startup.
type DataSource struct {
	ID                  string
	Name                string
	BaseURL             string
	DataType            DataType
	UpdateFrequencyDays int
	StartYear           *int
	Keywords            []string
	LinkPattern         string
	MaxPages            int
}

// CandidateLink is a link on a listing page that probably points at a bulletin.
type CandidateLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
