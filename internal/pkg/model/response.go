package model

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ResponseMetadata is created once by the fetcher and is read-only
// afterwards; it is safe to share a single pointer across every consumer of
// an HttpResponse.
type ResponseMetadata struct {
	URL         *UrlInfo    `json:"url"`
	Status      int         `json:"status"`
	HTTPVersion string      `json:"http_version"`
	Headers     http.Header `json:"headers"`
	RemoteAddr  string      `json:"remote_addr,omitempty"`
	FetchedAt   time.Time   `json:"fetched_at"`
	ID          uuid.UUID   `json:"id"`
}

// HttpResponse pairs immutable metadata with a lazily-streamed, multi-consumer
// body. Every fan-out sink (storage, each matched scraper) gets its own
// BodyConsumer over the same underlying Body broadcast.
type HttpResponse struct {
	Meta *ResponseMetadata
	Body *Body
}

// CrawlInfo is written once at crawl start and read back at export time.
type CrawlInfo struct {
	Config      string   `json:"config"`
	EntryPoints []string `json:"entry_points"`
}
