package model

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyBroadcastsToAllConsumers(t *testing.T) {
	body := NewBody(0)
	c1 := body.NewConsumer()
	c2 := body.NewConsumer()

	body.Send(BodyChunk{Data: []byte("hello")})
	body.Send(BodyChunk{End: true})

	for _, c := range []*BodyConsumer{c1, c2} {
		data, err := io.ReadAll(c.Reader())
		require.NoError(t, err)
		require.Equal(t, "hello", string(data))
	}
}

func TestBodyLateConsumerSeesHistory(t *testing.T) {
	body := NewBody(0)
	body.Send(BodyChunk{Data: []byte("a")})
	body.Send(BodyChunk{Data: []byte("b")})

	late := body.NewConsumer()
	body.Send(BodyChunk{End: true})

	data, err := io.ReadAll(late.Reader())
	require.NoError(t, err)
	require.Equal(t, "ab", string(data))
}

func TestBodyConsumerLagTerminatesWithError(t *testing.T) {
	body := NewBody(1)
	c := body.NewConsumer()

	for i := 0; i < 5; i++ {
		body.Send(BodyChunk{Data: []byte{byte(i)}})
	}

	_, err := io.ReadAll(c.Reader())
	require.ErrorIs(t, err, ErrConsumerLagged)
}

func TestBodyErrChunkPropagates(t *testing.T) {
	body := NewBody(0)
	c := body.NewConsumer()

	readErr := &BodyReadError{Kind: BodyReadTooLarge, Err: ErrBodyTooLarge}
	body.Send(BodyChunk{Data: []byte("partial")})
	body.Send(BodyChunk{Err: readErr})

	_, err := io.ReadAll(c.Reader())
	require.ErrorIs(t, err, ErrBodyTooLarge)
}
