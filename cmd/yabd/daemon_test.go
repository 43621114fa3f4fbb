package main

import (
	"context"
	"testing"
	"time"
)

func startTestDaemon(t *testing.T, ctrl *Controller) (chan Event, context.CancelFunc) {
	t.Helper()
	events := make(chan Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runDaemon(ctx, events, ctrl, discardLogger())
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return events, cancel
}

func TestRunDaemon_AppliesAmbientAndCommands(t *testing.T) {
	act := newMockActuator(500, 1000)
	sensor := &mockSensor{lux: 125}
	ctrl := newTestController(testControlConfig(), act, sensor)
	events, _ := startTestDaemon(t, ctrl)

	events <- AmbientChanged{Lux: 125}
	waitUntil(t, time.Second, func() bool { return len(act.setCalls()) == 1 }, "ambient applied")

	res, err := submitCommand(context.Background(), events, CmdDim{})
	if err != nil {
		t.Fatalf("submitCommand: %v", err)
	}
	if !res.OK || res.State == nil || !res.State.IsDim {
		t.Fatalf("expected dim result with state, got %+v", res)
	}

	snap, err := requestSnapshot(context.Background(), events)
	if err != nil {
		t.Fatalf("requestSnapshot: %v", err)
	}
	if !snap.IsDim || snap.KnownBrightness != 7 {
		t.Fatalf("expected dimmed snapshot at 7, got %+v", snap)
	}
}

func TestRunDaemon_StopsOnClosedChannel(t *testing.T) {
	ctrl := newTestController(testControlConfig(), newMockActuator(0, 100), nil)
	events := make(chan Event)
	done := make(chan struct{})

	go func() {
		runDaemon(context.Background(), events, ctrl, discardLogger())
		close(done)
	}()
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop after events closed")
	}
}

func TestHandleEvent_FullReplyDoesNotBlock(t *testing.T) {
	ctrl := newTestController(testControlConfig(), newMockActuator(0, 100), nil)
	reply := make(chan CommandResult)

	done := make(chan struct{})
	go func() {
		handleEvent(context.Background(), CommandRequest{Command: CmdStatus{}, Reply: reply}, ctrl, discardLogger())
		handleEvent(context.Background(), RequestStateSnapshot{}, ctrl, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handleEvent blocked on an unread reply")
	}
}

func TestForwardSensor(t *testing.T) {
	sensor := &mockSensor{}
	events := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := forwardSensor(ctx, sensor, events); err != nil {
		t.Fatalf("forwardSensor: %v", err)
	}
	sensor.emit(42)

	select {
	case ev := <-events:
		a, ok := ev.(AmbientChanged)
		if !ok || a.Lux != 42 {
			t.Fatalf("expected AmbientChanged{42}, got %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected forwarded ambient event")
	}
}
