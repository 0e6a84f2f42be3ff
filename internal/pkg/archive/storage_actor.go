package archive

import (
	"context"
	"io"
	"time"

	"github.com/kore-signet/evergarden/internal/pkg/model"
	"github.com/kore-signet/evergarden/internal/pkg/stats"
)

// StorageActor adapts a Store into the actor the fetcher talks to, grounded
// on Storage's Actor impl in storage.rs (answer_request dispatching on
// StorageMessage::Retrieve/Store).
type StorageActor struct {
	store *Store
}

func NewStorageActor(store *Store) *StorageActor {
	return &StorageActor{store: store}
}

// Answer implements actor.Actor.
func (a *StorageActor) Answer(_ context.Context, req model.StorageRequest) model.StorageReply {
	switch req.Op {
	case model.StorageRetrieve:
		return a.retrieve(req.Key)
	case model.StorageStore:
		return a.put(req.Key, req.Response)
	default:
		return model.StorageReply{}
	}
}

// Close implements actor.Actor.
func (a *StorageActor) Close() {}

func (a *StorageActor) retrieve(key string) model.StorageReply {
	integrity, meta, err := a.store.GetRecord(key)
	if err != nil {
		return model.StorageReply{Err: err}
	}
	if meta == nil {
		return model.StorageReply{}
	}

	blob, err := a.store.GetBody(integrity)
	if err != nil {
		return model.StorageReply{Err: err}
	}
	if blob == nil {
		return model.StorageReply{Err: model.WrapCache(io.ErrUnexpectedEOF)}
	}

	body := model.NewBody(0)
	go streamBlob(blob, body)

	return model.StorageReply{Retrieved: &model.HttpResponse{Meta: meta, Body: body}}
}

func (a *StorageActor) put(key string, res *model.HttpResponse) model.StorageReply {
	consumer := res.Body.NewConsumer()
	counted := &countingReader{r: consumer.Reader()}
	_, err := a.store.Put(key, res.Meta, time.Now().UnixNano(), counted)
	if err != nil {
		return model.StorageReply{Err: err}
	}
	stats.BytesStoredAdd(counted.n)
	return model.StorageReply{}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func streamBlob(blob io.ReadCloser, body *model.Body) {
	defer blob.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := blob.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			body.Send(model.BodyChunk{Data: chunk})
		}
		if err == io.EOF {
			body.Send(model.BodyChunk{End: true})
			return
		}
		if err != nil {
			body.Send(model.BodyChunk{Err: &model.BodyReadError{Kind: model.BodyReadIO, Err: err}, End: true})
			return
		}
	}
}
