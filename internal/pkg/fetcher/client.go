// Package fetcher is the HTTP fetch actor: cache-then-fetch against the
// archive, rate-limited concurrent GETs, and fan-out of the fetched body to
// storage and to every matching scraper. It is the Go rendering of the
// original client's HttpClient/HttpRateLimiter pair in client.rs.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telanflow/cookiejar"
	"github.com/tomnomnom/linkheader"

	"github.com/kore-signet/evergarden/internal/pkg/actor"
	"github.com/kore-signet/evergarden/internal/pkg/config"
	"github.com/kore-signet/evergarden/internal/pkg/model"
	"github.com/kore-signet/evergarden/internal/pkg/ratelimit"
	"github.com/kore-signet/evergarden/internal/pkg/stats"
	"github.com/kore-signet/evergarden/internal/pkg/surt"
)

// Mailbox is the handle other actors use to request a fetch.
type Mailbox = actor.Mailbox[*model.UrlInfo, model.FetchResult]

// StorageMailbox is the handle the fetcher uses to talk to the archive actor.
type StorageMailbox = actor.Mailbox[model.StorageRequest, model.StorageReply]

// ScraperMailbox is the handle the fetcher uses to fan a fetched response out
// to every scraper that wants to see it.
type ScraperMailbox = actor.Mailbox[*model.HttpResponse, error]

// Client is the Actor behind a fetch Mailbox.
type Client struct {
	headers       []headerPair
	limiter       *ratelimit.Limiter
	http          *http.Client
	maxBodyLength int64
	timeout       time.Duration
	maxHops       int

	storage  StorageMailbox
	scrapers ScraperMailbox
	self     Mailbox
}

type headerPair struct {
	name  string
	value string
}

// New builds a Client from an HTTP config and the mailboxes it fans fetched
// responses out to. self is the same Mailbox the returned Client will be
// spawned behind: AlternateLinks discoveries are resubmitted through it, the
// same way scripting.instance resubmits a scraper's OpSubmit requests.
func New(cfg config.HTTPConfig, limiter *ratelimit.Limiter, storage StorageMailbox, scrapers ScraperMailbox, self Mailbox, maxHops int) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, model.WrapIO(err)
	}

	headers := make([]headerPair, 0, len(cfg.Headers))
	for _, h := range cfg.Headers {
		headers = append(headers, headerPair{name: h.Name, value: h.Value})
	}

	return &Client{
		headers:       headers,
		limiter:       limiter,
		http:          &http.Client{Jar: jar},
		maxBodyLength: cfg.MaxBodyLength,
		timeout:       cfg.Timeout.Duration(),
		maxHops:       maxHops,
		storage:       storage,
		scrapers:      scrapers,
		self:          self,
	}, nil
}

// Answer implements actor.Actor: it is the cache-then-fetch decision point
// run on the client's own goroutine pool (the ActorManager may spawn several
// of these sharing one Mailbox).
func (c *Client) Answer(ctx context.Context, info *model.UrlInfo) model.FetchResult {
	reply := c.storage.Request(ctx, model.StorageRequest{Op: model.StorageRetrieve, Key: surt.Canonicalize(info.URL)})
	if reply.Err == nil && reply.Retrieved != nil {
		stats.URLsFetchedIncr()
		return model.FetchResult{Response: reply.Retrieved}
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		stats.URLsFailedIncr()
		return model.FetchResult{Err: err}
	}
	defer release()

	res, err := c.get(ctx, info)
	if err != nil {
		stats.URLsFailedIncr()
		return model.FetchResult{Err: err}
	}
	stats.URLsFetchedIncr()
	return model.FetchResult{Response: res}
}

// Close satisfies actor.Actor; the underlying http.Client needs no teardown.
func (c *Client) Close() {}

func (c *Client) get(ctx context.Context, info *model.UrlInfo) (*model.HttpResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var remoteAddr string
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
	}
	reqCtx = httptrace.WithClientTrace(reqCtx, trace)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, info.RawURL, nil)
	if err != nil {
		return nil, model.WrapIO(err)
	}
	for _, h := range c.headers {
		req.Header.Set(h.name, h.value)
	}

	fetchedAt := time.Now().UTC()

	httpRes, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, model.ErrTimedOut
		}
		return nil, &model.BodyReadError{Kind: model.BodyReadClient, Err: err}
	}

	meta := &model.ResponseMetadata{
		URL:         info,
		Status:      httpRes.StatusCode,
		HTTPVersion: httpRes.Proto,
		Headers:     httpRes.Header,
		RemoteAddr:  remoteAddr,
		FetchedAt:   fetchedAt,
		ID:          uuid.New(),
	}

	body := model.NewBody(0)
	res := &model.HttpResponse{Meta: meta, Body: body}

	go streamBody(c.maxBodyLength, httpRes.Body, body)

	var storageErr, scraperErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		key := surt.Canonicalize(info.URL)
		reply := c.storage.Request(ctx, model.StorageRequest{Op: model.StorageStore, Key: key, Response: res})
		storageErr = reply.Err
	}()
	go func() {
		defer wg.Done()
		scraperErr = c.scrapers.Request(ctx, res)
	}()
	wg.Wait()

	if storageErr != nil {
		return nil, storageErr
	}
	if scraperErr != nil {
		return nil, scraperErr
	}

	c.submitAlternateLinks(ctx, info, meta)

	return res, nil
}

// submitAlternateLinks resolves each Link-header discovery against info,
// the same hop-resolution path scripting.instance uses for a scraper's
// OpSubmit frame, and resubmits survivors to the fetch mailbox.
func (c *Client) submitAlternateLinks(ctx context.Context, info *model.UrlInfo, meta *model.ResponseMetadata) {
	if c.self == (Mailbox{}) {
		return
	}
	for _, link := range AlternateLinks(meta) {
		hop, ok := info.Hop(link)
		if !ok || hop.Hops > c.maxHops {
			continue
		}
		c.self.DeferredRequest(ctx, hop)
	}
}

// streamBody copies httpBody into body in chunks, enforcing maxBodyLength (0
// means unbounded), and always terminates the broadcast with an End chunk.
func streamBody(maxBodyLength int64, httpBody io.ReadCloser, body *model.Body) {
	defer httpBody.Close()

	var received int64
	buf := make([]byte, 32*1024)

	for {
		n, err := httpBody.Read(buf)
		if n > 0 {
			received += int64(n)
			if maxBodyLength > 0 && received > maxBodyLength {
				readErr := &model.BodyReadError{Kind: model.BodyReadTooLarge, Err: model.ErrBodyTooLarge}
				body.Send(model.BodyChunk{Err: readErr, End: true})
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			body.Send(model.BodyChunk{Data: chunk})
		}
		if err == io.EOF {
			body.Send(model.BodyChunk{End: true})
			return
		}
		if err != nil {
			readErr := &model.BodyReadError{Kind: model.BodyReadIO, Err: err}
			body.Send(model.BodyChunk{Err: readErr, End: true})
			return
		}
	}
}

// AlternateLinks extracts rel="alternate" and rel="next" targets from a
// response's Link header, a supplemental discovery path alongside in-body
// link extraction: hop()-resolved the same way as any other discovered URL.
func AlternateLinks(meta *model.ResponseMetadata) []string {
	raw := meta.Headers.Get("Link")
	if raw == "" {
		return nil
	}

	var out []string
	for _, link := range linkheader.Parse(raw) {
		if link.Rel == "alternate" || link.Rel == "next" {
			out = append(out, link.URL)
		}
	}
	return out
}
