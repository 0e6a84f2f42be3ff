// Package scripting implements the length-prefixed binary protocol spoken
// over a scraper subprocess's stdin/stdout, and the actors that dispatch
// fetched responses to matching scripts. It mirrors the original client's
// scripting::protocol and scripting::script modules almost opcode for
// opcode, since the wire format is shared with any out-of-process scraper.
package scripting

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

// ClientOp is the opcode a scraper subprocess sends to the host.
type ClientOp byte

const (
	OpSubmit  ClientOp = 0
	OpFetch   ClientOp = 1
	OpEndFile ClientOp = 2
)

// ServerOp is the opcode the host sends to a scraper subprocess.
type ServerOp byte

const (
	ServerSubmit      ServerOp = 0
	ServerAnswerFetch ServerOp = 1
	ServerCloseScript ServerOp = 2
)

// ClientRequest is one message read from a scraper's stdout.
type ClientRequest struct {
	Op  ClientOp
	URL string // set for OpSubmit and OpFetch
}

// ClientReader decodes ClientRequest values from a scraper's stdout.
type ClientReader struct {
	r *bufio.Reader
}

func NewClientReader(r io.Reader) *ClientReader {
	return &ClientReader{r: bufio.NewReader(r)}
}

// ReadOp blocks for the next opcode the subprocess sends.
func (c *ClientReader) ReadOp() (ClientRequest, error) {
	opByte, err := c.r.ReadByte()
	if err != nil {
		return ClientRequest{}, err
	}

	switch ClientOp(opByte) {
	case OpSubmit, OpFetch:
		var length uint16
		if err := binary.Read(c.r, binary.LittleEndian, &length); err != nil {
			return ClientRequest{}, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return ClientRequest{}, err
		}
		return ClientRequest{Op: ClientOp(opByte), URL: string(buf)}, nil
	case OpEndFile:
		return ClientRequest{Op: OpEndFile}, nil
	default:
		return ClientRequest{}, fmt.Errorf("scripting: unknown client opcode %d", opByte)
	}
}

// ClientWriter encodes host -> scraper messages onto a subprocess's stdin.
type ClientWriter struct {
	w *bufio.Writer
}

func NewClientWriter(w io.Writer) *ClientWriter {
	return &ClientWriter{w: bufio.NewWriter(w)}
}

// Submit sends a newly fetched response for the scraper to process.
func (c *ClientWriter) Submit(res *model.HttpResponse) error {
	if err := c.w.WriteByte(byte(ServerSubmit)); err != nil {
		return err
	}
	return c.writeResponse(res)
}

// CloseScript tells the scraper no more work is coming.
func (c *ClientWriter) CloseScript() error {
	if err := c.w.WriteByte(byte(ServerCloseScript)); err != nil {
		return err
	}
	return c.w.Flush()
}

// ErrorFetch answers a Fetch request with an error string.
func (c *ClientWriter) ErrorFetch(errMsg string) error {
	if err := c.w.WriteByte(byte(ServerAnswerFetch)); err != nil {
		return err
	}
	if err := c.w.WriteByte(1); err != nil { // is an error
		return err
	}
	if err := binary.Write(c.w, binary.LittleEndian, uint64(len(errMsg))); err != nil {
		return err
	}
	if _, err := c.w.WriteString(errMsg); err != nil {
		return err
	}
	return c.w.Flush()
}

// AnswerFetch answers a Fetch request with the fetched response.
func (c *ClientWriter) AnswerFetch(res *model.HttpResponse) error {
	if err := c.w.WriteByte(byte(ServerAnswerFetch)); err != nil {
		return err
	}
	if err := c.w.WriteByte(0); err != nil { // not an error
		return err
	}
	return c.writeResponse(res)
}

// writeResponse writes the metadata as a length-prefixed JSON blob, followed
// by the body as a stream of length-prefixed chunks terminated by a
// zero-length chunk.
func (c *ClientWriter) writeResponse(res *model.HttpResponse) error {
	metaJSON, err := json.Marshal(res.Meta)
	if err != nil {
		return model.WrapJSON(err)
	}

	if err := binary.Write(c.w, binary.LittleEndian, uint64(len(metaJSON))); err != nil {
		return err
	}
	if _, err := c.w.Write(metaJSON); err != nil {
		return err
	}

	consumer := res.Body.NewConsumer()
	for chunk := range consumer.Chunks() {
		if chunk.Err != nil {
			return chunk.Err
		}
		if chunk.End {
			break
		}
		if err := binary.Write(c.w, binary.LittleEndian, uint64(len(chunk.Data))); err != nil {
			return err
		}
		if _, err := c.w.Write(chunk.Data); err != nil {
			return err
		}
		if err := c.w.Flush(); err != nil {
			return err
		}
	}

	if err := binary.Write(c.w, binary.LittleEndian, uint64(0)); err != nil {
		return err
	}
	return c.w.Flush()
}
