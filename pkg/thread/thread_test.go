package thread

import (
	"context"
	"testing"
	"time"

	"github.com/fluxorio/procmesh/pkg/message"
)

func drainUntil(t *testing.T, c *Context, handler func(message.Message) message.Message, deadline time.Duration) error {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		processed, err := c.Process(handler)
		if err != nil {
			return err
		}
		if !processed {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func TestOwnerTidMissingOnRoot(t *testing.T) {
	root := NewRoot()
	if _, err := root.OwnerTid(); err != ErrTidMissing {
		t.Errorf("OwnerTid() on a root context = %v, want ErrTidMissing", err)
	}
}

func TestSpawnRecordsLink(t *testing.T) {
	parent := NewRoot()
	ready := make(chan struct{})
	child := Spawn(parent, func(self *Context) {
		<-ready
		self.Cleanup()
	})

	links := parent.Links()
	if len(links) != 1 || links[0] != child.ID() {
		t.Fatalf("parent.Links() = %v, want [%v]", links, child.ID())
	}

	owner, err := child.OwnerTid()
	if err != nil || owner != parent.ID() {
		t.Fatalf("child.OwnerTid() = %v, %v, want %v, nil", owner, err, parent.ID())
	}

	close(ready)
}

func TestLinkDeadNotifiesParentOnChildCleanup(t *testing.T) {
	parent := NewRoot()
	done := make(chan struct{})
	child := Spawn(parent, func(self *Context) {
		self.Cleanup()
		close(done)
	})
	<-done

	var gotSignal *message.Signal
	err := drainUntil(t, parent, func(req message.Message) message.Message {
		if req.Signal != nil {
			gotSignal = req.Signal
		}
		return message.Message{}
	}, 200*time.Millisecond)

	if err != ErrLinkTerminated {
		t.Fatalf("Process() err = %v, want ErrLinkTerminated", err)
	}
	if gotSignal == nil || gotSignal.Kind != message.SignalLinkTerminated || gotSignal.Peer != child.ID().String() {
		t.Fatalf("signal delivered = %+v, want LinkTerminated(%v)", gotSignal, child.ID())
	}
}

func TestOwnerTerminatedNotifiesChild(t *testing.T) {
	parent := NewRoot()
	childDone := make(chan struct{})
	var signalKind message.SignalKind
	Spawn(parent, func(self *Context) {
		for {
			processed, err := self.Process(func(req message.Message) message.Message {
				if req.Signal != nil {
					signalKind = req.Signal.Kind
				}
				return message.Message{}
			})
			if err == ErrOwnerTerminated {
				close(childDone)
				return
			}
			if !processed {
				time.Sleep(time.Millisecond)
			}
		}
	})

	parent.Cleanup()

	select {
	case <-childDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("child never observed OwnerTerminated")
	}
	if signalKind != message.SignalOwnerTerminated {
		t.Errorf("signal kind = %v, want SignalOwnerTerminated", signalKind)
	}
}

func TestHandlerConsumingLinkDeadSuppressesError(t *testing.T) {
	parent := NewRoot()
	done := make(chan struct{})
	Spawn(parent, func(self *Context) {
		self.Cleanup()
		close(done)
	})
	<-done

	end := time.Now().Add(200 * time.Millisecond)
	var sawSignal bool
	for time.Now().Before(end) {
		processed, err := parent.Process(func(req message.Message) message.Message {
			if req.Signal != nil {
				sawSignal = true
				return message.SuccessResponse("handled")
			}
			return message.Message{}
		})
		if processed {
			if err != nil {
				t.Fatalf("Process() err = %v, want nil once handler consumes the signal", err)
			}
			if sawSignal {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("never observed the LinkDead signal")
}

func TestStandardMessageReachesHandler(t *testing.T) {
	c := NewRoot()
	go func() {
		for {
			processed, _ := c.Process(func(req message.Message) message.Message {
				return message.SuccessResponse(req.Req.Args)
			})
			if processed {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	resp := c.Mailbox().Submit(context.Background(), message.NewRequestMessage(message.Request{Args: "ping"}))
	if resp.Resp == nil || resp.Resp.Data != "ping" {
		t.Fatalf("Submit() = %+v, want data=ping", resp)
	}
}
