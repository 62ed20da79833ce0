// File: internal/gate/confirmer.go
// Brief: Interactive and policy-driven confirmation capabilities.

package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirmer answers a yes/no question about a pending change. The
// interactive implementation blocks on operator input; the automatic one is
// the pass-through policy used for non-protected environments. Both run
// through the same gate code path.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoConfirmer answers without prompting.
type AutoConfirmer struct {
	Approve bool
}

func (a AutoConfirmer) Confirm(context.Context, string) (bool, error) {
	return a.Approve, nil
}

// InteractiveConfirmer reads an explicit yes/no from the operator.
type InteractiveConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prompts and waits for a line. Cancelling the context aborts the
// wait; only an exact "yes" (or "y") approves.
func (c InteractiveConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if c.Out == nil {
		return false, errors.New("confirmation output is nil")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = "Proceed?"
	}
	fmt.Fprint(c.Out, prompt+" [yes/no] ")

	closeInputOnCancel := func() {
		rc, ok := c.In.(io.ReadCloser)
		if !ok {
			return
		}
		// Never close the real process stdin; it can break subsequent prompts.
		if f, ok := c.In.(*os.File); ok && os.Stdin != nil && f.Fd() == os.Stdin.Fd() {
			return
		}
		_ = rc.Close()
	}

	reader := bufio.NewReader(c.In)
	type readResult struct {
		line string
		err  error
	}
	results := make(chan readResult, 1)
	go func() {
		line, err := reader.ReadString('\n')
		results <- readResult{line: line, err: err}
	}()

	var line string
	var err error
	select {
	case <-ctx.Done():
		closeInputOnCancel()
		fmt.Fprintln(c.Out)
		return false, ctx.Err()
	case res := <-results:
		line, err = res.line, res.err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	reply := strings.ToLower(strings.TrimSpace(line))
	return reply == "yes" || reply == "y", nil
}
