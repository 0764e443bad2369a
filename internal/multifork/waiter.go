package multifork

import (
	"os"

	"golang.org/x/sys/unix"
)

// killedSentinel is the exit code a Waiter reports when the write end of
// its pipe closed without writing, by convention interpreted as "killed".
const killedSentinel = 137

// Waiter is the read end of an inherited-fd exit-code channel between a
// proxy child and the invoking caller.
type Waiter struct {
	r *os.File
}

// Wait blocks until the proxy writes its one exit-code byte, or its write
// end closes without writing, and returns the resulting byte. On close
// without write it returns killedSentinel (137), the conventional
// SIGKILL-equivalent.
func (w *Waiter) Wait() byte {
	defer w.r.Close()
	buf := make([]byte, 1)
	n, err := w.r.Read(buf)
	if err != nil || n != 1 {
		return killedSentinel
	}
	return buf[0]
}

// ExitPipe is a {read, write} pair for the proxy-to-waiter exit-code
// channel. The write end is CLOEXEC so a proxy that dies mid-setup closes
// it automatically, surfacing killedSentinel to the Waiter.
type ExitPipe struct {
	Read  *os.File
	Write *os.File
}

// NewExitPipe creates a fresh proxy/waiter pipe pair.
func NewExitPipe() (*ExitPipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &ExitPipe{
		Read:  os.NewFile(uintptr(fds[0]), "distrod-exitcode-r"),
		Write: os.NewFile(uintptr(fds[1]), "distrod-exitcode-w"),
	}, nil
}

// Waiter returns the Waiter half of this pipe.
func (p *ExitPipe) Waiter() *Waiter {
	return &Waiter{r: p.Read}
}

// WriteExitCode publishes a command's exit status (or killedSentinel, if
// it was terminated by a signal) as the single byte read by Wait.
func (p *ExitPipe) WriteExitCode(code byte) {
	_, _ = p.Write.Write([]byte{code})
	_ = p.Write.Close()
}
