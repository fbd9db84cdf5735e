package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

const (
	maxChunkSize = 1 << 20
	maxErrorBody = 64 << 10
)

// ErrInterrupted is returned by Next after Cancel
var ErrInterrupted = fault.New("generation interrupted").WithCode(fault.CodeInterrupted)

// Generation is one in-flight streaming call. Next is meant for a single
// consumer; Cancel may be called from any goroutine.
type Generation struct {
	client *Client
	req    *http.Request
	cancel context.CancelFunc
	logger *logging.Logger

	resp    *http.Response
	scanner *bufio.Scanner
	err     error // terminal result once set

	malformed int

	once        sync.Once
	interrupted atomic.Bool
	finished    atomic.Bool
}

// Next returns the next text chunk. It returns io.EOF when the backend
// signals completion, ErrInterrupted after Cancel, and a coded fault for
// connection failures and non-success statuses.
func (g *Generation) Next() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if g.interrupted.Load() {
		return "", g.finish(ErrInterrupted)
	}

	if g.resp == nil {
		if err := g.open(); err != nil {
			return "", g.finish(err)
		}
	}

	for g.scanner.Scan() {
		if g.interrupted.Load() {
			return "", g.finish(ErrInterrupted)
		}

		line := strings.TrimSpace(g.scanner.Text())
		if line == "" {
			continue
		}

		var chunk GenerateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			g.malformed++
			g.logger.Warn("skipping malformed chunk", "error", err, "chunk", truncate(line, 120))
			continue
		}
		if chunk.Error != "" {
			return "", g.finish(fault.New(chunk.Error).WithCode(fault.CodeUpstreamBadStatus))
		}
		if chunk.Done {
			g.finish(io.EOF)
			if chunk.Response != "" {
				return chunk.Response, nil
			}
			return "", io.EOF
		}
		if chunk.Response != "" {
			return chunk.Response, nil
		}
	}

	if g.interrupted.Load() {
		return "", g.finish(ErrInterrupted)
	}
	if err := g.scanner.Err(); err != nil {
		return "", g.finish(fault.Wrap(err, "stream read failed").WithCode(fault.CodeUpstreamUnavailable))
	}
	// Stream closed without a done marker
	return "", g.finish(io.EOF)
}

func (g *Generation) open() error {
	resp, err := g.client.httpClient.Do(g.req)
	if err != nil {
		if g.interrupted.Load() || errors.Is(err, context.Canceled) {
			return ErrInterrupted
		}
		return fault.Wrap(err, "upstream unavailable").WithCode(fault.CodeUpstreamUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fault.New(msg).
			WithCode(fault.CodeUpstreamBadStatus).
			WithDetail("status", resp.StatusCode)
	}

	g.resp = resp
	g.scanner = bufio.NewScanner(resp.Body)
	g.scanner.Buffer(make([]byte, 0, 64*1024), maxChunkSize)
	return nil
}

// finish records the terminal result and releases the connection
func (g *Generation) finish(err error) error {
	if g.err == nil {
		g.err = err
	}
	g.finished.Store(true)
	if g.resp != nil {
		g.resp.Body.Close()
	}
	g.cancel()
	return g.err
}

// Cancel stops the generation. The local stream stops yielding at once;
// the backend is asked to abort through an out-of-band DELETE unless the
// stream had already finished. Safe to call more than once.
func (g *Generation) Cancel() {
	g.once.Do(func() {
		g.interrupted.Store(true)
		g.cancel()
		if !g.finished.Load() {
			go g.client.abort()
		}
	})
}

// Interrupted reports whether Cancel was called
func (g *Generation) Interrupted() bool {
	return g.interrupted.Load()
}

// Malformed returns the number of skipped chunks
func (g *Generation) Malformed() int {
	return g.malformed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
