package model

// FetchResult is what a fetch-mailbox answers with: either a fetched
// response or the error that prevented fetching it. It is declared here,
// rather than in the fetcher package that implements the actor answering
// it, so that actor.Mailbox[*UrlInfo, FetchResult] can be named by any
// package (scripting, pipeline) without importing the fetcher package and
// creating an import cycle with it.
type FetchResult struct {
	Response *HttpResponse
	Err      error
}

// StorageOp names what a storage-mailbox message asks the archive to do.
type StorageOp int

const (
	StorageRetrieve StorageOp = iota
	StorageStore
)

// StorageRequest is the input type of the storage actor's mailbox.
type StorageRequest struct {
	Op       StorageOp
	Key      string // SURT key; set for both StorageRetrieve and StorageStore
	Response *HttpResponse // set for StorageStore
	Meta     *ResponseMetadata // not read by StorageActor; StorageStore uses Response.Meta
	FetchedAtUnixNano int64
}

// StorageReply is the output type of the storage actor's mailbox.
type StorageReply struct {
	Retrieved *HttpResponse
	Err       error
}
