package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/3leaps/filecast/pkg/reconcile"
)

var errNoAnswer = errors.New("no confirmation answer on stdin; pass --yes to skip the prompt")

// newConfirmer asks on out and reads one line from in. Only "y" or "yes"
// confirms. assumeYes skips the prompt.
//
// On a terminal, end of input (Ctrl-D) declines. On piped stdin it fails
// with errNoAnswer so scripts that forgot --yes do not silently skip.
func newConfirmer(in io.Reader, out io.Writer, assumeYes bool) reconcile.ConfirmFunc {
	if assumeYes {
		return reconcile.Always(true)
	}
	return promptConfirmer(in, out, isTerminal(in))
}

func promptConfirmer(in io.Reader, out io.Writer, interactive bool) reconcile.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, prompt string) (bool, error) {
		if _, err := fmt.Fprintf(out, "%s [y/N]: ", prompt); err != nil {
			return false, err
		}

		type answer struct {
			line string
			err  error
		}
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{line, err}
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case a := <-ch:
			if a.err != nil && !(errors.Is(a.err, io.EOF) && a.line != "") {
				if errors.Is(a.err, io.EOF) {
					if interactive {
						_, _ = fmt.Fprintln(out)
						return false, nil
					}
					return false, errNoAnswer
				}
				return false, a.err
			}
			return parseAnswer(a.line), nil
		}
	}
}

func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// isTerminal reports whether r is a terminal device.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
