// Package session drives programs on a hub: compile, upload, run and capture
// output, with a timeout, cancellation and exclusive use of the device.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/capture"
	"github.com/llll-robotics/llll/internal/compiler"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/devicelock"
	"github.com/llll-robotics/llll/internal/link"
	"github.com/llll-robotics/llll/internal/types"
)

// Request describes one run. An empty Device means "the only hub in range".
type Request struct {
	Program string
	Device  string
	Timeout time.Duration
}

// Resolver picks a hub when the request names none, and ties a requested
// name or address to the advertiser it denotes.
type Resolver interface {
	Resolve(ctx context.Context, name string) (link.Advertisement, error)
}

type Orchestrator struct {
	transport link.Transport
	compiler  compiler.Compiler
	resolver  Resolver
	locks     *devicelock.Registry
	streamer  *Streamer
	cfg       config.SessionConfig
	logger    *zap.Logger

	runningMu sync.RWMutex
	running   map[uuid.UUID]*Session
}

func NewOrchestrator(
	transport link.Transport,
	comp compiler.Compiler,
	resolver Resolver,
	locks *devicelock.Registry,
	streamer *Streamer,
	cfg config.SessionConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		compiler:  comp,
		resolver:  resolver,
		locks:     locks,
		streamer:  streamer,
		cfg:       cfg,
		logger:    logger,
		running:   make(map[uuid.UUID]*Session),
	}
}

// Run executes one session to a terminal state. Every failure is reported
// in the result; Run itself never fails.
func (o *Orchestrator) Run(ctx context.Context, req Request) *types.RunResult {
	s := newSession(req, o.cfg.CaptureMaxLines, o.streamer, o.logger)

	o.runningMu.Lock()
	o.running[s.ID] = s
	o.runningMu.Unlock()

	defer func() {
		o.runningMu.Lock()
		delete(o.running, s.ID)
		o.runningMu.Unlock()
	}()

	s.logger.Info("Session started",
		zap.String("program", req.Program),
		zap.String("device", req.Device),
		zap.Duration("timeout", req.Timeout))

	result := o.execute(ctx, s, req)

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration),
		zap.Int("lines", len(result.Output)),
	}
	if result.Error != nil {
		fields = append(fields, zap.String("error_kind", string(result.Error.Kind)))
	}
	s.logger.Info("Session finished", fields...)
	return result
}

// Cancel stops the session with the given ID.
func (o *Orchestrator) Cancel(sessionID uuid.UUID) error {
	o.runningMu.RLock()
	s, exists := o.running[sessionID]
	o.runningMu.RUnlock()

	if !exists {
		return types.NewError(types.KindNotFound, fmt.Sprintf("session not found or not running: %s", sessionID), nil)
	}

	s.Cancel()
	return nil
}

// CancelDevice stops whatever session is using device. It returns the ID of
// the cancelled session.
func (o *Orchestrator) CancelDevice(device string) (uuid.UUID, error) {
	owner, held := o.locks.Owner(device)

	o.runningMu.RLock()
	defer o.runningMu.RUnlock()

	if held {
		if id, err := uuid.Parse(owner); err == nil {
			if s, ok := o.running[id]; ok {
				s.Cancel()
				return id, nil
			}
		}
	}
	for id, s := range o.running {
		if s.Device() == device {
			s.Cancel()
			return id, nil
		}
	}
	return uuid.Nil, types.NewError(types.KindNotFound, fmt.Sprintf("no session running on %s", device), nil)
}

// Active lists the sessions in flight.
func (o *Orchestrator) Active() []Status {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()

	out := make([]Status, 0, len(o.running))
	for _, s := range o.running {
		out = append(out, s.Status())
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, s *Session, req Request) *types.RunResult {
	if req.Timeout <= 0 {
		return s.fail(types.NewError(types.KindInvalidRequest, "timeout must be positive", nil))
	}
	if req.Program == "" {
		return s.fail(types.NewError(types.KindInvalidRequest, "program is required", nil))
	}

	// runCtx ends when the caller goes away or Cancel is called.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.cancelled:
			stop()
		case <-runCtx.Done():
		}
	}()

	var lease *devicelock.Lease
	defer func() {
		if lease != nil {
			lease.Release()
		}
	}()

	if req.Device != "" {
		l, err := o.locks.TryAcquire(req.Device, s.ID.String())
		if err != nil {
			return s.fail(err)
		}
		lease = l
	}

	s.setState(types.StateCompiling)
	artifact, err := o.compiler.Compile(runCtx, req.Program)
	if err != nil {
		if runCtx.Err() != nil {
			return o.cancelledBeforeRun(s)
		}
		if types.KindOf(err) == types.KindInternal {
			err = types.NewError(types.KindCompile, "compile step failed", err)
		}
		return s.fail(err)
	}

	switch {
	case lease == nil:
		ad, err := o.resolve(runCtx, "")
		if err != nil {
			if runCtx.Err() != nil {
				return o.cancelledBeforeRun(s)
			}
			return s.fail(err)
		}
		s.setDevice(ad.Identifier())
		l, err := o.locks.TryAcquire(ad.Identifier(), s.ID.String())
		if err != nil {
			return s.fail(err)
		}
		lease = l

	case !o.locks.Known(req.Device):
		// The lease was taken under a spelling not yet tied to an address.
		if _, err := o.resolve(runCtx, req.Device); err != nil {
			if runCtx.Err() != nil {
				return o.cancelledBeforeRun(s)
			}
			return s.fail(err)
		}
	}

	if req.Device != "" {
		if err := lease.Claim(req.Device); err != nil {
			return s.fail(err)
		}
	}

	s.setState(types.StateUploading)
	conn, err := o.transport.Connect(runCtx, s.Device())
	if err != nil {
		if runCtx.Err() != nil {
			return o.cancelledBeforeRun(s)
		}
		return s.fail(types.ConnectionError(fmt.Sprintf("failed to connect to %s", s.Device()), err))
	}

	client := link.NewClient(conn, o.cfg.AckTimeout)
	defer func() {
		if err := client.Close(); err != nil {
			s.logger.Warn("Closing link failed", zap.Error(err))
		}
	}()

	if err := client.Upload(runCtx, artifact, o.cfg.ChunkSize); err != nil {
		if runCtx.Err() != nil {
			return o.cancelledBeforeRun(s)
		}
		return s.fail(uploadError(err))
	}
	if err := client.Start(runCtx); err != nil {
		if runCtx.Err() != nil {
			return o.cancelledBeforeRun(s)
		}
		return s.fail(uploadError(err))
	}

	s.logger.Debug("Program uploaded",
		zap.String("device", s.Device()),
		zap.Int("bytes", len(artifact)))

	s.setState(types.StateRunning)
	return o.capture(runCtx, s, client)
}

// resolve finds the advertiser for name and records its name and address
// as one device.
func (o *Orchestrator) resolve(ctx context.Context, name string) (link.Advertisement, error) {
	ad, err := o.resolver.Resolve(ctx, name)
	if err != nil {
		return link.Advertisement{}, err
	}
	o.locks.Learn(ad.Name, ad.Address)
	return ad, nil
}

func (o *Orchestrator) cancelledBeforeRun(s *Session) *types.RunResult {
	return s.finish(types.StateCancelled, nil, types.NewError(types.KindCancelled, "cancelled before the program started", nil))
}

func uploadError(err error) error {
	var rejected *link.RejectedError
	if errors.As(err, &rejected) {
		return types.NewError(types.KindUpload, rejected.Error(), nil)
	}
	return types.ConnectionError("upload interrupted", err)
}

type received struct {
	frame *link.Frame
	err   error
}

func readFrames(ctx context.Context, client *link.Client, out chan<- received) {
	for {
		frame, err := client.Next(ctx)
		select {
		case out <- received{frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// capture reads hub frames until a marker, the deadline or a cancel. The
// deadline starts now, after the start acknowledgement.
func (o *Orchestrator) capture(ctx context.Context, s *Session, client *link.Client) *types.RunResult {
	readCtx, stopReading := context.WithCancel(context.Background())
	defer stopReading()

	frames := make(chan received, 64)
	go readFrames(readCtx, client, frames)

	deadline := time.NewTimer(s.Timeout)
	defer deadline.Stop()

	for {
		select {
		case r := <-frames:
			if result := o.handle(s, r); result != nil {
				return result
			}

		case <-deadline.C:
			o.forceClose(s, client)
			s.buffer.Mark(capture.MarkerDisconnect, "timeout")
			return s.finish(types.StateTimedOut, nil, types.NewError(types.KindTimeoutExceeded,
				fmt.Sprintf("no completion within %s; link closed", s.Timeout), nil))

		case <-ctx.Done():
			return o.stop(s, client, frames)
		}
	}
}

// handle processes one frame and returns a result once the run is over.
func (o *Orchestrator) handle(s *Session, r received) *types.RunResult {
	if r.err != nil {
		s.buffer.Mark(capture.MarkerDisconnect, r.err.Error())
		if errors.Is(r.err, io.EOF) {
			return s.fail(types.ConnectionError("link closed before the program finished", nil))
		}
		return s.fail(types.ConnectionError("link lost while running", r.err))
	}

	switch r.frame.Kind {
	case link.KindStdout:
		s.write(r.frame.Text())

	case link.KindCompleted:
		code, err := r.frame.ParseExitCode()
		if err != nil {
			return s.fail(types.ConnectionError("malformed completion marker", err))
		}
		s.buffer.Mark(capture.MarkerCompletion, fmt.Sprintf("exit code %d", code))
		return s.finish(types.StateCompleted, types.ExitCodeOf(code), nil)

	case link.KindException:
		text := r.frame.Text()
		s.buffer.Mark(capture.MarkerException, text)
		return s.finish(types.StateFailed, types.ExitCodeOf(1), types.RemoteRuntimeError(text))

	default:
		s.logger.Debug("Ignoring frame", zap.String("kind", r.frame.Kind.String()))
	}
	return nil
}

// stop asks the hub to stop, waits up to the grace period for it to do so,
// then closes the link whatever happened.
func (o *Orchestrator) stop(s *Session, client *link.Client, frames <-chan received) *types.RunResult {
	graceCtx, cancel := context.WithTimeout(context.Background(), o.cfg.CancelGrace)
	defer cancel()

	if err := client.Stop(graceCtx); err != nil {
		s.logger.Debug("Stop request not delivered", zap.Error(err))
	}

	stopped := false
wait:
	for {
		select {
		case r := <-frames:
			if r.err != nil {
				stopped = true
				break wait
			}
			switch r.frame.Kind {
			case link.KindStdout:
				s.write(r.frame.Text())
			case link.KindCompleted, link.KindException:
				stopped = true
				break wait
			}
		case <-graceCtx.Done():
			break wait
		}
	}

	o.forceClose(s, client)

	msg := "cancelled by caller"
	if !stopped {
		msg = fmt.Sprintf("cancelled by caller; hub did not stop within %s, link closed", o.cfg.CancelGrace)
	}
	return s.finish(types.StateCancelled, nil, types.NewError(types.KindCancelled, msg, nil))
}

func (o *Orchestrator) forceClose(s *Session, client *link.Client) {
	if err := client.Close(); err != nil {
		s.logger.Warn("Forced disconnect failed", zap.Error(err))
	}
}
