// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package workertool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/codec"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/future"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
	"github.com/bureau-foundation/buildexec/lib/testutil"
)

// fakeProcess stands in for the worker process. Wait blocks until exit
// or Kill is called.
type fakeProcess struct {
	exited  chan struct{}
	once    sync.Once
	waitErr error
	killed  atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exited: make(chan struct{})}
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.waitErr
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.waitErr = err
		close(p.exited)
	})
}

// fakeWorker holds the worker ends of a client connection over real
// FIFOs. The test drives it by hand.
type fakeWorker struct {
	t       *testing.T
	client  *Client
	process *fakeProcess
	decoder *codec.Decoder
	events  *downward.EventWriter
}

func newFakeWorker(t *testing.T, options ClientOptions) *fakeWorker {
	t.Helper()
	factory := namedpipe.ForPlatform(runtime.GOOS, testutil.PipeDir(t))

	commands, err := factory.CreateAsWriter()
	if err != nil {
		t.Fatal(err)
	}
	events, err := factory.CreateAsReader()
	if err != nil {
		t.Fatal(err)
	}
	workerCommands, err := factory.ConnectAsReader(commands.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { workerCommands.Close() })
	workerEvents, err := factory.ConnectAsWriter(events.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { workerEvents.Close() })
	eventWriter, err := downward.NewEventWriter(workerEvents, nil, downward.EncodingBinary)
	if err != nil {
		t.Fatal(err)
	}

	process := newFakeProcess()
	options.Commands = commands
	options.Events = events
	options.Process = process
	options.Factory = factory
	client, err := NewClient(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		process.exit(nil)
		client.Close()
	})
	return &fakeWorker{
		t:       t,
		client:  client,
		process: process,
		decoder: codec.NewDecoder(workerCommands),
		events:  eventWriter,
	}
}

func (w *fakeWorker) receive() Command {
	w.t.Helper()
	received := make(chan Command, 1)
	failed := make(chan error, 1)
	go func() {
		var command Command
		if err := w.decoder.Decode(&command); err != nil {
			failed <- err
			return
		}
		received <- command
	}()
	select {
	case command := <-received:
		return command
	case err := <-failed:
		w.t.Fatalf("decoding command: %v", err)
	case <-time.After(5 * time.Second):
		w.t.Fatal("timed out waiting for a command")
	}
	return Command{}
}

func (w *fakeWorker) emit(events ...downward.Event) {
	w.t.Helper()
	for _, event := range events {
		if err := w.events.Write(event); err != nil {
			w.t.Fatalf("writing %T: %v", event, err)
		}
	}
}

func waitFuture[T any](t *testing.T, handle *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := handle.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not complete")
	}
	return value, err
}

func TestClientExecuteResolvesResult(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{})
	handle, err := worker.client.ExecuteCommand("a1", map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}

	command := worker.receive()
	if command.Type != CommandExecute || command.ActionID != "a1" {
		t.Fatalf("command = %+v", command)
	}
	var decoded map[string]string
	if err := codec.Unmarshal(command.Payload, &decoded); err != nil || decoded["k"] != "v" {
		t.Fatalf("payload = %v (%v)", decoded, err)
	}

	worker.emit(downward.ResultEvent{ActionID: "a1", ExitCode: 2, Stderr: "bad"})
	result, err := waitFuture(t, handle)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 2 || result.Stderr != "bad" {
		t.Errorf("result = %+v", result)
	}
	if pending := worker.client.Pending(); pending != 0 {
		t.Errorf("Pending() = %d after the result", pending)
	}
}

func TestClientPipelinedResultsArriveOutOfOrder(t *testing.T) {
	observed := make(chan downward.EventType, 8)
	worker := newFakeWorker(t, ClientOptions{OnEvent: func(event downward.Event) {
		observed <- event.EventType()
	}})

	ids := []downward.ActionID{"a", "b", "c"}
	finished := future.New[downward.PipelineFinishedEvent]()
	handles, err := worker.client.ExecutePipeliningCommand(ids, []any{1, 2, 3}, finished)
	if err != nil {
		t.Fatal(err)
	}
	command := worker.receive()
	if command.Type != CommandExecutePipelining || len(command.Payloads) != 3 {
		t.Fatalf("command = %+v", command)
	}

	if err := worker.client.StartNextCommand("b"); err != nil {
		t.Fatal(err)
	}
	if next := worker.receive(); next.Type != CommandStartNext || next.ActionID != "b" {
		t.Fatalf("start_next command = %+v", next)
	}

	worker.emit(
		downward.ResultEvent{ActionID: "c", ExitCode: 3},
		downward.ResultEvent{ActionID: "a", ExitCode: 1},
		downward.ResultEvent{ActionID: "b", ExitCode: 2},
		downward.PipelineFinishedEvent{ActionIDs: ids},
	)
	for index, handle := range handles {
		result, err := waitFuture(t, handle)
		if err != nil {
			t.Fatalf("%s: %v", ids[index], err)
		}
		if result.ActionID != ids[index] || result.ExitCode != index+1 {
			t.Errorf("handle %d resolved with %+v", index, result)
		}
	}
	event, err := waitFuture(t, finished)
	if err != nil || len(event.ActionIDs) != 3 {
		t.Fatalf("finished = %+v, %v", event, err)
	}

	for range 3 {
		if got := testutil.RequireReceive(t, observed, 5*time.Second); got != downward.EventTypeResult {
			t.Errorf("observed %v before the batch results were all seen", got)
		}
	}
	if got := testutil.RequireReceive(t, observed, 5*time.Second); got != downward.EventTypePipelineFinished {
		t.Errorf("observed %v, want PipelineFinished after the three results", got)
	}
}

func TestClientFailsActionsMissingFromFinishedBatch(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{})
	ids := []downward.ActionID{"x", "y"}
	handles, err := worker.client.ExecutePipeliningCommand(ids, []any{nil, nil}, nil)
	if err != nil {
		t.Fatal(err)
	}
	worker.receive()
	worker.emit(
		downward.ResultEvent{ActionID: "x"},
		downward.PipelineFinishedEvent{ActionIDs: ids},
	)
	if _, err := waitFuture(t, handles[0]); err != nil {
		t.Errorf("x: %v", err)
	}
	if _, err := waitFuture(t, handles[1]); !errors.Is(err, ErrPipelineIncomplete) {
		t.Errorf("y error = %v, want ErrPipelineIncomplete", err)
	}
}

func TestClientRejectsDuplicateActionID(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{})
	if _, err := worker.client.ExecuteCommand("dup", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := worker.client.ExecuteCommand("dup", nil); !errors.Is(err, ErrDuplicateActionID) {
		t.Errorf("second submit error = %v, want ErrDuplicateActionID", err)
	}
	_, err := worker.client.ExecutePipeliningCommand([]downward.ActionID{"fresh", "dup"}, []any{nil, nil}, nil)
	if !errors.Is(err, ErrDuplicateActionID) {
		t.Errorf("batch error = %v, want ErrDuplicateActionID", err)
	}
	if pending := worker.client.Pending(); pending != 1 {
		t.Errorf("Pending() = %d, want the rejected batch to register nothing", pending)
	}
}

func TestClientStartNextRequiresOutstandingBatch(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{})
	if err := worker.client.StartNextCommand("nobody"); !errors.Is(err, ErrNotPipelined) {
		t.Errorf("error = %v, want ErrNotPipelined", err)
	}
}

func TestClientWorkerExitFailsOutstandingActions(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{})
	single, err := worker.client.ExecuteCommand("single", nil)
	if err != nil {
		t.Fatal(err)
	}
	finished := future.New[downward.PipelineFinishedEvent]()
	batch, err := worker.client.ExecutePipeliningCommand([]downward.ActionID{"p1", "p2"}, []any{nil, nil}, finished)
	if err != nil {
		t.Fatal(err)
	}
	worker.receive()
	worker.receive()

	// p1 finished before the crash; its result is still in the pipe.
	worker.emit(downward.ResultEvent{ActionID: "p1"})
	worker.process.exit(errors.New("exit status 139"))

	if _, err := waitFuture(t, batch[0]); err != nil {
		t.Errorf("p1: %v, want the result written before the exit", err)
	}
	for name, handle := range map[string]*future.Future[downward.ResultEvent]{"single": single, "p2": batch[1]} {
		if _, err := waitFuture(t, handle); !errors.Is(err, ErrWorkerExited) {
			t.Errorf("%s error = %v, want ErrWorkerExited", name, err)
		}
	}
	if _, err := waitFuture(t, finished); !errors.Is(err, ErrWorkerExited) {
		t.Errorf("batch finished error = %v, want ErrWorkerExited", err)
	}
	if _, err := worker.client.ExecuteCommand("late", nil); !errors.Is(err, ErrWorkerExited) {
		t.Errorf("submit after exit error = %v, want ErrWorkerExited", err)
	}
}

func TestClientCloseShutsDownWorker(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{})
	outstanding, err := worker.client.ExecuteCommand("left", nil)
	if err != nil {
		t.Fatal(err)
	}
	worker.receive()

	closed := make(chan error, 1)
	go func() { closed <- worker.client.Close() }()

	if command := worker.receive(); command.Type != CommandShutdown {
		t.Fatalf("command = %+v, want shutdown", command)
	}
	worker.emit(downward.EndEvent{})
	worker.process.exit(nil)

	if err := testutil.RequireReceive(t, closed, 5*time.Second, "Close did not return"); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := waitFuture(t, outstanding); err == nil {
		t.Error("outstanding action resolved successfully after Close")
	}
	if worker.process.killed.Load() {
		t.Error("worker was killed despite exiting on shutdown")
	}
	if _, err := worker.client.ExecuteCommand("after", nil); err == nil {
		t.Error("submit after Close succeeded")
	}
}

func TestClientCloseKillsUnresponsiveWorker(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	worker := newFakeWorker(t, ClientOptions{Clock: fake, CloseTimeout: time.Second})

	closed := make(chan error, 1)
	go func() { closed <- worker.client.Close() }()
	if command := worker.receive(); command.Type != CommandShutdown {
		t.Fatalf("command = %+v, want shutdown", command)
	}

	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	if err := testutil.RequireReceive(t, closed, 5*time.Second, "Close did not return"); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !worker.process.killed.Load() {
		t.Error("unresponsive worker was not killed")
	}
}

func TestClientWorkerExitUnblocksFullCommandPipe(t *testing.T) {
	worker := newFakeWorker(t, ClientOptions{CloseTimeout: 200 * time.Millisecond})

	// The worker never reads, so the command pipe fills and a send
	// blocks part way through a command.
	payload := make([]byte, 40*1024)
	submitted := make(chan error, 1)
	go func() {
		for range 8 {
			id := downward.ActionID(testutil.UniqueID("fill"))
			if _, err := worker.client.ExecuteCommand(id, payload); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	deadline := time.Now().Add(5 * time.Second)
	for worker.client.Pending() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("commands were never submitted")
		}
		time.Sleep(time.Millisecond)
	}
	worker.process.exit(errors.New("signal: killed"))

	if err := testutil.RequireReceive(t, submitted, 5*time.Second, "ExecuteCommand blocked after the worker exited"); err == nil {
		t.Error("every command was delivered to a worker that never read them")
	}

	closed := make(chan error, 1)
	go func() { closed <- worker.client.Close() }()
	testutil.RequireReceive(t, closed, 5*time.Second, "Close blocked after the worker exited")
	if pending := worker.client.Pending(); pending != 0 {
		t.Errorf("Pending() = %d after Close", pending)
	}
}

func TestClientCloseBoundedWhenWorkerStopsReading(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	worker := newFakeWorker(t, ClientOptions{Clock: fake, CloseTimeout: time.Second})

	// Fill the command pipe so the shutdown command cannot be written.
	payload := make([]byte, 40*1024)
	submitted := make(chan error, 1)
	go func() {
		for {
			if _, err := worker.client.ExecuteCommand(downward.ActionID(testutil.UniqueID("fill")), payload); err != nil {
				submitted <- err
				return
			}
		}
	}()
	deadline := time.Now().Add(5 * time.Second)
	for worker.client.Pending() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("commands were never submitted")
		}
		time.Sleep(time.Millisecond)
	}

	closed := make(chan error, 1)
	go func() { closed <- worker.client.Close() }()
	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	testutil.RequireReceive(t, closed, 5*time.Second, "Close did not return")
	if !worker.process.killed.Load() {
		t.Error("worker was not killed")
	}
	testutil.RequireReceive(t, submitted, 5*time.Second, "blocked submit was not released")
}
