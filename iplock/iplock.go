// Package iplock provides the cross-process mutual exclusion the AWG and
// capture controllers take around any register sequence that must not be
// interleaved with another process's (select -> act -> deselect) sequence
// on the same instrument: an advisory file lock keyed on the instrument's
// IP address, held for the duration of the critical section.
//
// Lock also serializes concurrent callers within one process: a second
// goroutine's Lock call blocks until the first's matching Unlock, so two
// goroutines driving the same *Controller (e.g. one calling StartAwgs
// while another calls ResetAwgs) can never interleave their select -> act
// -> deselect sequences on the shared master-control register. No caller
// in this codebase nests Lock calls on its own goroutine, so Lock does not
// attempt reentrant acquisition.
package iplock

import (
	"fmt"
	"net/netip"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/lattice-rf/awgctrl/xerr"
)

// Kind names which instrument subsystem a Lock guards; each gets its own
// lock file so AWG and capture critical sections never contend with each
// other.
type Kind string

const (
	KindAwg     Kind = "e7awg"
	KindCapture Kind = "e7capture"
)

// Lock is a cross-process advisory lock for one (Kind, IP address) pair.
// mu is the in-process blocking gate (held from a successful Lock call
// until its matching Unlock); stateMu guards file, which only Lock,
// Unlock and Discard touch.
type Lock struct {
	mu      sync.Mutex
	stateMu sync.Mutex
	path    string
	file    *os.File
}

// New builds a Lock for the instrument at ipAddr, under the given Kind.
// ipAddr is canonicalized ("localhost" becomes "127.0.0.1") so equivalent
// spellings of the same host share one lock file.
func New(kind Kind, ipAddr string) (*Lock, error) {
	canon, err := canonicalizeIP(ipAddr)
	if err != nil {
		return nil, err
	}
	return &Lock{
		path: fmt.Sprintf("/tmp/%s_%s.lock", kind, canon),
	}, nil
}

func canonicalizeIP(ipAddr string) (string, error) {
	if ipAddr == "localhost" {
		return "127.0.0.1", nil
	}
	addr, err := netip.ParseAddr(ipAddr)
	if err != nil {
		return "", xerr.NewValidationError("iplock.New", "invalid IP address %q: %s", ipAddr, err)
	}
	return addr.String(), nil
}

// Lock acquires the cross-process lock, blocking until it is available. If
// another goroutine in this process currently holds it, Lock blocks until
// that goroutine's Unlock, never returning early the way a bare hold
// counter would.
func (l *Lock) Lock() error {
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.mu.Unlock()
		return xerr.NewValidationError("Lock.Lock", "opening lock file %s: %s", l.path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return xerr.NewValidationError("Lock.Lock", "flock %s: %s", l.path, err)
	}

	l.stateMu.Lock()
	l.file = f
	l.stateMu.Unlock()
	return nil
}

// Unlock releases the lock acquired by the matching Lock call, unblocking
// whichever goroutine is waiting next in Lock.
func (l *Lock) Unlock() error {
	l.stateMu.Lock()
	f := l.file
	l.file = nil
	l.stateMu.Unlock()

	if f == nil {
		return xerr.NewValidationError("Lock.Unlock", "unlock called without a matching lock")
	}

	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	cerr := f.Close()
	l.mu.Unlock()
	if err != nil {
		return xerr.NewValidationError("Lock.Unlock", "funlock %s: %s", l.path, err)
	}
	return cerr
}

// Discard forcibly releases a held lock and removes the lock file, for use
// during process teardown when a clean Unlock cannot be guaranteed.
func (l *Lock) Discard() error {
	l.stateMu.Lock()
	f := l.file
	l.file = nil
	l.stateMu.Unlock()

	if f != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		l.mu.Unlock()
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return xerr.NewValidationError("Lock.Discard", "removing lock file %s: %s", l.path, err)
	}
	return nil
}
