// Package intake implements the host-local hook ingestion daemon: a single
// process binds a Unix stream socket and turns coding-assistant hook
// envelopes into store writes, debounce marker touches, in-process
// reconciliation dispatch, and sweeper spawns.
package intake

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/procutil"
	"github.com/apomarinov/workio/internal/reconcile"
	"github.com/apomarinov/workio/internal/store"
	"go.uber.org/zap"
)

// Daemon owns the Unix socket listener and the shared store handle. The
// database writes of hook processing are serialized through dbMu, so
// concurrent hook connections never interleave; in-process reconciliation
// writes through the same store without taking dbMu.
type Daemon struct {
	cfg       config.DaemonConfig
	store     store.Store
	log       *logger.Logger
	scheduler *reconcile.Scheduler

	dbMu sync.Mutex

	listener net.Listener
}

// New builds a Daemon bound to st. Reconciliation runs in-process via a
// reconcile.Scheduler, one goroutine per dispatched hook, with the
// per-session marker/lock files serializing the runs for a session;
// cmd/reconciler remains available as a standalone subprocess entrypoint
// sharing the same reconcile.Run core, but the daemon itself never spawns
// it. Call Serve to start accepting connections.
func New(cfg config.DaemonConfig, rcfg config.ReconcileConfig, st store.Store, log *logger.Logger) *Daemon {
	log = log.WithFields(zap.String("component", "intake"))
	opts := reconcile.Options{
		DebounceDir:  debounceDir(cfg.InstallDir),
		DebounceWait: rcfg.DebounceSecondsDuration(),
		StaleAfter:   rcfg.StaleLockAfter(),
		WaitInterval: rcfg.LockWaitInterval(),
	}
	return &Daemon{
		cfg:       cfg,
		store:     st,
		log:       log,
		scheduler: reconcile.NewScheduler(st, log, opts),
	}
}

// Serve binds the Unix socket and accepts connections until ctx is
// cancelled. It removes any stale socket file left by a prior crashed run
// before binding.
func (d *Daemon) Serve(ctx context.Context) error {
	_ = os.Remove(d.cfg.SocketPath)

	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return err
	}
	d.listener = ln
	d.log.Info("listening", zap.String("socket", d.cfg.SocketPath))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				d.log.WithError(err).Warn("accept failed")
				continue
			}
		}
		go d.handleConn(ctx, conn)
	}
}

// Close removes the socket file. Safe to call after Serve returns.
func (d *Daemon) Close() {
	if d.listener != nil {
		_ = d.listener.Close()
	}
	_ = os.Remove(d.cfg.SocketPath)
}

// Wait blocks until every in-flight reconciliation dispatched via the
// in-process scheduler has finished. Call after Serve returns, as part of
// graceful shutdown.
func (d *Daemon) Wait() {
	d.scheduler.Wait()
}

// request is the wire envelope from the thin hook client. Event is kept as
// raw JSON so it can be stored verbatim via save_hook while also being
// unmarshaled into the typed hookEvent for dispatch.
type request struct {
	Event json.RawMessage `json:"event"`
	Env   struct {
		TerminalID string `json:"WORKIO_TERMINAL_ID"`
		ShellID    string `json:"WORKIO_SHELL_ID"`
	} `json:"env"`
}

type response struct {
	Continue bool `json:"continue"`
}

// handleConn serves exactly one request/response pair per connection, per
// the wire contract: a single line of JSON in, a single line of JSON out.
// Any internal failure still yields {"continue": true} — the assistant CLI
// must never be blocked by our own errors.
func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if d.cfg.ReadTimeoutSecs > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(time.Duration(d.cfg.ReadTimeoutSecs) * time.Second))
	}

	reader := bufio.NewReaderSize(conn, 1<<20)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	d.process(ctx, line)

	out, _ := json.Marshal(response{Continue: true})
	out = append(out, '\n')
	_, _ = conn.Write(out)
}

// process handles one line of the wire protocol. Errors are always logged
// and never surfaced to the caller — the response is unconditionally
// {"continue": true}.
func (d *Daemon) process(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		d.log.WithError(err).Warn("malformed hook envelope")
		return
	}
	var event hookEvent
	if err := json.Unmarshal(req.Event, &event); err != nil {
		d.log.WithError(err).Warn("malformed hook event")
		return
	}

	d.dbMu.Lock()
	err := d.processEventLocked(ctx, event, req.Event, req.Env.TerminalID, req.Env.ShellID)
	d.dbMu.Unlock()
	if err != nil {
		d.log.WithError(err).Error("hook processing failed")
		return
	}

	// Post-commit actions, outside the DB mutex: touch the debounce marker
	// and dispatch the in-process reconciler, and (for everything but
	// SessionStart) a throttled sweep.
	if event.SessionID != "" {
		d.touchAndDispatchReconcile(ctx, event.SessionID)
	}
	if event.HookEventName != hookSessionStart {
		d.spawnSweeper()
	}
}

func (d *Daemon) touchAndDispatchReconcile(ctx context.Context, sessionID string) {
	now := time.Now()
	if err := touchDebounceMarker(d.cfg.InstallDir, sessionID, now); err != nil {
		d.log.WithError(err).Warn("failed to touch debounce marker")
		return
	}
	d.scheduler.Dispatch(ctx, sessionID, now)
}

func (d *Daemon) spawnSweeper() {
	if err := procutil.SpawnDetached(d.cfg.SweeperPath); err != nil {
		d.log.WithError(err).Warn("failed to spawn sweeper")
	}
}

// touchDebounceMarker is a thin re-export so the daemon doesn't need to
// import reconcile's unexported marker helpers directly; it mirrors
// reconcile's own marker semantics exactly.
func touchDebounceMarker(installDir, sessionID string, now time.Time) error {
	return reconcile.TouchMarker(debounceDir(installDir), sessionID, now)
}

func debounceDir(installDir string) string {
	return filepath.Join(installDir, "debounce")
}
