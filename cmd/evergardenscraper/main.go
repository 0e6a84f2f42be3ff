// Command evergardenscraper is a sample out-of-process scraper speaking the
// wire protocol internal/pkg/scripting.Manager drives a subprocess with
// (the reverse side of scripting/protocol.go): it reads Submit/AnswerFetch/
// CloseScript frames from stdin and writes Submit/Fetch/EndFile frames to
// stdout. It extracts outgoing links from HTML pages with goquery and from
// everything else with xurls, and demonstrates the Fetch half of the
// protocol by fetching each page's favicon.
package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"mvdan.cc/xurls/v2"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

type serverOp byte

const (
	serverSubmit      serverOp = 0
	serverAnswerFetch serverOp = 1
	serverCloseScript serverOp = 2
)

type clientOp byte

const (
	clientSubmit  clientOp = 0
	clientFetch   clientOp = 1
	clientEndFile clientOp = 2
)

var bareURLPattern = xurls.Strict()

func main() {
	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)

	for {
		opByte, err := in.ReadByte()
		if err != nil {
			return
		}

		switch serverOp(opByte) {
		case serverSubmit:
			meta, body, err := readResponse(in)
			if err != nil {
				return
			}
			handleSubmit(in, out, meta, body)
			if err := writeFrame(out, clientEndFile, ""); err != nil {
				return
			}
			out.Flush()

		case serverAnswerFetch:
			// Unsolicited at top level (every Fetch this scraper issues is
			// answered synchronously inside handleSubmit); drain and ignore.
			if _, _, err := readFetchAnswer(in); err != nil {
				return
			}

		case serverCloseScript:
			return
		}
	}
}

// handleSubmit extracts every link it can find in body and submits it back
// to the host. For HTML pages that declare a favicon, it first demonstrates a
// Fetch round-trip by requesting that favicon, before the links are submitted.
func handleSubmit(in *bufio.Reader, out *bufio.Writer, meta *model.ResponseMetadata, body []byte) {
	contentType, _, _ := parseContentType(meta)

	var links []string
	if contentType == "text/html" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			links = append(links, extractLinks(doc)...)
			if href, ok := faviconHref(doc); ok {
				fetchAndLog(in, out, href)
			}
		}
	} else {
		links = bareURLPattern.FindAllString(string(body), -1)
	}

	for _, link := range links {
		if err := writeFrame(out, clientSubmit, link); err != nil {
			return
		}
	}
	out.Flush()
}

func extractLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href], link[href], script[src], img[src]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
		if src, ok := s.Attr("src"); ok && src != "" {
			links = append(links, src)
		}
	})
	return links
}

func faviconHref(doc *goquery.Document) (string, bool) {
	var href string
	var found bool
	doc.Find("link[rel='icon'], link[rel='shortcut icon']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("href"); ok && v != "" {
			href, found = v, true
			return false
		}
		return true
	})
	return href, found
}

// fetchAndLog issues a Fetch request for href and blocks for the host's
// AnswerFetch, logging the resulting size or error to stderr.
func fetchAndLog(in *bufio.Reader, out *bufio.Writer, href string) {
	if err := writeFrame(out, clientFetch, href); err != nil {
		return
	}
	out.Flush()

	opByte, err := in.ReadByte()
	if err != nil || serverOp(opByte) != serverAnswerFetch {
		return
	}

	isErr, body, err := readFetchAnswer(in)
	if err != nil {
		return
	}
	if isErr {
		fmt.Fprintf(os.Stderr, "evergardenscraper: favicon fetch %s failed: %s\n", href, string(body))
		return
	}
	fmt.Fprintf(os.Stderr, "evergardenscraper: favicon %s fetched, %d bytes\n", href, len(body))
}

// readFetchAnswer reads the is_error byte followed by either the error
// string or a full response, returning the raw payload bytes either way.
func readFetchAnswer(r *bufio.Reader) (isError bool, payload []byte, err error) {
	errByte, err := r.ReadByte()
	if err != nil {
		return false, nil, err
	}
	if errByte == 1 {
		msg, err := readUint64String(r)
		return true, []byte(msg), err
	}

	_, body, err := readResponse(r)
	return false, body, err
}

func readUint64String(r *bufio.Reader) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readResponse decodes a length-prefixed JSON metadata blob followed by the
// body as a stream of length-prefixed chunks terminated by a zero-length
// chunk, the layout ClientWriter.writeResponse produces.
func readResponse(r *bufio.Reader) (*model.ResponseMetadata, []byte, error) {
	var metaLen uint64
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return nil, nil, err
	}
	metaJSON := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaJSON); err != nil {
		return nil, nil, err
	}

	var meta model.ResponseMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, err
	}

	var body bytes.Buffer
	for {
		var chunkLen uint64
		if err := binary.Read(r, binary.LittleEndian, &chunkLen); err != nil {
			return nil, nil, err
		}
		if chunkLen == 0 {
			break
		}
		if _, err := io.CopyN(&body, r, int64(chunkLen)); err != nil {
			return nil, nil, err
		}
	}

	return &meta, body.Bytes(), nil
}

func writeFrame(w *bufio.Writer, op clientOp, payload string) error {
	if err := w.WriteByte(byte(op)); err != nil {
		return err
	}
	if op == clientEndFile {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(payload))); err != nil {
		return err
	}
	_, err := w.WriteString(payload)
	return err
}

func parseContentType(meta *model.ResponseMetadata) (mediaType string, params map[string]string, err error) {
	ct := meta.Headers.Get("Content-Type")
	if ct == "" {
		return "", nil, fmt.Errorf("no content-type")
	}
	mediaType = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	return strings.ToLower(mediaType), nil, nil
}
