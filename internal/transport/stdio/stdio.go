// Package stdio is the line-oriented operator surface: commands arrive one
// JSON document per line and events leave the same way.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"

	"craftbot.ai/internal/persistence/journal"
	"craftbot.ai/internal/protocol"
)

const maxLine = 64 * 1024

// Journal is the subset of *journal.Writer the transport records to.
type Journal interface {
	Record(dir, source string, line []byte) error
}

// Serve hands every non-empty line of r to handle, in order, until r is
// exhausted or ctx is done. Overlong lines are reported and skipped.
func Serve(ctx context.Context, r io.Reader, j Journal, handle func(context.Context, []byte)) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, maxLine)
		for {
			line, err := readLine(br)
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					errc <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if j != nil {
				_ = j.Record(journal.DirIn, "stdin", line)
			}
			handle(ctx, line)
		}
	}
}

// readLine returns the next line without its terminator, trimmed of
// surrounding whitespace. A line longer than the buffer is consumed and
// replaced by an empty object, which fails command validation.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, isPrefix, err := br.ReadLine()
	if isPrefix {
		for isPrefix && err == nil {
			_, isPrefix, err = br.ReadLine()
		}
		return []byte("{}"), err
	}
	out := append([]byte(nil), bytes.TrimSpace(line)...)
	return out, err
}

// Writer prints events as JSON lines and journals each one.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	j   Journal
	log *log.Logger
}

func NewWriter(out io.Writer, j Journal, logger *log.Logger) *Writer {
	return &Writer{out: out, j: j, log: logger}
}

func (w *Writer) Emit(ev protocol.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		w.logf("[stdio] encode %s: %v", ev.Event, err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(b, '\n')); err != nil {
		w.logf("[stdio] write: %v", err)
	}
	if w.j != nil {
		if err := w.j.Record(journal.DirOut, "", b); err != nil {
			w.logf("[stdio] journal: %v", err)
		}
	}
}

func (w *Writer) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}
