package scripting

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/kore-signet/evergarden/internal/pkg/actor"
	"github.com/kore-signet/evergarden/internal/pkg/config"
	"github.com/kore-signet/evergarden/internal/pkg/fetcher"
	"github.com/kore-signet/evergarden/internal/pkg/model"
)

// maxConcurrentDispatch bounds how many filter-matched scripts a single
// Answer call fans a response out to at once, so a response matching many
// scripts can't spawn an unbounded burst of goroutines.
const maxConcurrentDispatch = 32

// Manager is the Actor that fans a fetched response out to every scraper
// whose filter matches it, grounded on ScriptManager in script.rs.
type Manager struct {
	scripts []*script
}

// NewManager spawns one scraper subprocess pool per entry in cfgs.
func NewManager(cfgs map[string]config.ScriptConfig, client fetcher.Mailbox, maxHops int) (*Manager, error) {
	m := &Manager{}
	for name, cfg := range cfgs {
		s, err := spawnScript(cfg, client, maxHops)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("scripting: spawning %q: %w", name, err)
		}
		m.scripts = append(m.scripts, s)
	}
	return m, nil
}

// Answer implements actor.Actor: it dispatches data to every script whose
// filter matches, waiting for all of them before replying.
func (m *Manager) Answer(ctx context.Context, data *model.HttpResponse) error {
	swg := sizedwaitgroup.New(maxConcurrentDispatch)
	errCh := make(chan error, len(m.scripts))

	for _, s := range m.scripts {
		if !s.filter.Matches(data.Meta) {
			continue
		}
		swg.Add()
		go func(s *script) {
			defer swg.Done()
			errCh <- s.mailbox.Request(ctx, data)
		}(s)
	}

	swg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close implements actor.Actor: every script pool is closed and joined.
func (m *Manager) Close() {
	var wg sync.WaitGroup
	for _, s := range m.scripts {
		wg.Add(1)
		go func(s *script) {
			defer wg.Done()
			s.manager.CloseAndJoin()
		}(s)
	}
	wg.Wait()
}

type script struct {
	filter  config.ScriptFilter
	manager *actor.ActorManager[*model.HttpResponse, error]
	mailbox actor.Mailbox[*model.HttpResponse, error]
}

func spawnScript(cfg config.ScriptConfig, client fetcher.Mailbox, maxHops int) (*script, error) {
	mgr, mailbox := actor.NewActorManager[*model.HttpResponse, error](256, nil)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		inst, err := spawnInstance(cfg, client, maxHops)
		if err != nil {
			mgr.CloseAndJoin()
			return nil, err
		}
		mgr.SpawnActor(inst)
	}

	return &script{filter: cfg.Filter, manager: mgr, mailbox: mailbox}, nil
}

// instance is one scraper subprocess and its wire connection, grounded on
// ScriptInstance in script.rs.
type instance struct {
	client  fetcher.Mailbox
	proc    *exec.Cmd
	stdin   io.WriteCloser
	writer  *ClientWriter
	reader  *ClientReader
	maxHops int
}

func spawnInstance(cfg config.ScriptConfig, client fetcher.Mailbox, maxHops int) (*instance, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, model.WrapIO(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, model.WrapIO(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, model.WrapIO(err)
	}

	return &instance{
		client:  client,
		proc:    cmd,
		stdin:   stdin,
		writer:  NewClientWriter(stdin),
		reader:  NewClientReader(stdout),
		maxHops: maxHops,
	}, nil
}

// Answer implements actor.Actor: it hands data to the subprocess and serves
// every Submit/Fetch request it makes until EndFile.
func (i *instance) Answer(ctx context.Context, data *model.HttpResponse) error {
	if err := i.writer.Submit(data); err != nil {
		return model.WrapIO(err)
	}

	for {
		req, err := i.reader.ReadOp()
		if err != nil {
			return model.WrapIO(err)
		}

		switch req.Op {
		case OpSubmit:
			hop, ok := data.Meta.URL.Hop(req.URL)
			if !ok || hop.Hops > i.maxHops {
				continue
			}
			i.client.DeferredRequest(ctx, hop)

		case OpFetch:
			hop, ok := data.Meta.URL.Hop(req.URL)
			if !ok {
				if err := i.writer.ErrorFetch("invalid_url"); err != nil {
					return model.WrapIO(err)
				}
				continue
			}
			result := i.client.Request(ctx, hop)
			if result.Err != nil {
				if err := i.writer.ErrorFetch(result.Err.Error()); err != nil {
					return model.WrapIO(err)
				}
				continue
			}
			if err := i.writer.AnswerFetch(result.Response); err != nil {
				return model.WrapIO(err)
			}

		case OpEndFile:
			return nil
		}
	}
}

// Close implements actor.Actor: it sends CloseScript, waits briefly for the
// subprocess to exit on its own, then drops the stdin handle. Closing stdin
// (rather than killing the process) lets the child notice EOF and exit at
// its own pace; the OS reaps it once every descriptor is dropped.
func (i *instance) Close() {
	_ = i.writer.CloseScript()

	done := make(chan struct{})
	go func() {
		_ = i.proc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
	_ = i.stdin.Close()
}
