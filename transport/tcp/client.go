// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/protocol"
)

const (
	tcpTimeout = 10 * time.Second

	// DefaultFragmentSize matches the fragment size of BLE uploaders.
	DefaultFragmentSize = 128

	// statusWindow is the number of fragments sent between status reads.
	statusWindow = 128
	// maxStalls is the number of status reads without progress after which
	// an upload gives up.
	maxStalls = 3
)

var (
	ErrRequestTimedOut = errors.New("fota: request timed out")
	ErrNoProgress      = errors.New("fota: device accepts no fragments")
)

// StatusError reports an error status notified by the device during an upload.
type StatusError struct {
	Notification fota.Notification
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device reported %s at fragment %d", e.Notification.Status, e.Notification.FragmentID)
}

// Client streams firmware images to a Server.
type Client struct {
	Address      string
	Timeout      time.Duration
	FragmentSize int

	conn    net.Conn
	wmu     sync.Mutex
	replies chan *protocol.Frame
	closed  chan struct{}
	readErr error

	nmu     sync.Mutex
	notes   []fota.Notification
	noteSig chan struct{}
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address:      address,
		Timeout:      tcpTimeout,
		FragmentSize: DefaultFragmentSize,
	}
}

// Connect dials the server and starts reading its frames.
func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return fmt.Errorf("fota: failed to connect to %s: %w", c.Address, err)
	}
	c.conn = conn
	c.replies = make(chan *protocol.Frame, 1)
	c.closed = make(chan struct{})
	c.noteSig = make(chan struct{}, 1)
	go c.readLoop()
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.closed)
	r := bufio.NewReader(c.conn)
	for {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, protocol.ErrChecksum) {
				continue
			}
			c.readErr = err
			return
		}

		switch f.Type {
		case protocol.FrameNotify:
			n, err := f.Notification()
			if err != nil {
				slog.Warn("Invalid notification", "err", err)
				continue
			}
			c.nmu.Lock()
			c.notes = append(c.notes, n)
			c.nmu.Unlock()
			select {
			case c.noteSig <- struct{}{}:
			default:
			}
		case protocol.FrameControlReply, protocol.FrameStatusReply:
			c.replies <- f
		default:
			slog.Warn("Unexpected frame from server", "type", f.Type)
		}
	}
}

func (c *Client) send(f *protocol.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, f)
}

func (c *Client) request(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	if err := c.send(f); err != nil {
		return nil, err
	}
	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()
	select {
	case resp := <-c.replies:
		return resp, nil
	case <-c.closed:
		return nil, fmt.Errorf("fota: connection lost: %w", c.readErr)
	case <-timer.C:
		return nil, ErrRequestTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Control writes an opcode to the control point.
func (c *Client) Control(ctx context.Context, op fota.Opcode) (fota.Reply, error) {
	resp, err := c.request(ctx, protocol.NewControl(op))
	if err != nil {
		return 0, err
	}
	return resp.Reply()
}

// Status reads the status characteristic.
func (c *Client) Status(ctx context.Context) (fota.Notification, error) {
	resp, err := c.request(ctx, protocol.NewStatusRead())
	if err != nil {
		return fota.Notification{}, err
	}
	return resp.Notification()
}

func (c *Client) takeNotes() []fota.Notification {
	c.nmu.Lock()
	defer c.nmu.Unlock()
	notes := c.notes
	c.notes = nil
	return notes
}

func (c *Client) waitNote(ctx context.Context) error {
	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()
	select {
	case <-c.noteSig:
		return nil
	case <-c.closed:
		return fmt.Errorf("fota: connection lost: %w", c.readErr)
	case <-timer.C:
		return ErrRequestTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rebase moves next back to the fragment the device expects. Fragment ids wrap
// at 256, and the device never expects a fragment that was not sent.
func rebase(next int, expected byte) int {
	return next - int(byte(next)-expected)
}

// Upload starts a session, streams image honouring flow control and commits it.
// progress, if not nil, is called after every fragment sent.
func (c *Client) Upload(ctx context.Context, image []byte, progress func(sent, total int)) error {
	size := c.FragmentSize
	if size <= 0 || size > protocol.MaxFragment {
		return fmt.Errorf("fota: invalid fragment size %d", size)
	}
	total := (len(image) + size - 1) / size

	c.takeNotes()
	reply, err := c.Control(ctx, fota.OpStart)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if reply != fota.ReplySuccess {
		return fmt.Errorf("start rejected: %s", reply)
	}

	// The device pauses the stream while it erases the slot.
	paused := true
	// acked fragments are confirmed by the device. Fewer than 256 fragments
	// are ever in flight, so an 8-bit fragment id maps back to one index.
	next, acked, stalls := 0, 0, 0
	for {
		for _, n := range c.takeNotes() {
			switch n.Status {
			case fota.StatusXOFF:
				paused = true
			case fota.StatusXON:
				paused = false
				next = rebase(next, n.FragmentID)
				acked = next
			case fota.StatusSyncLost:
				next = rebase(next, n.FragmentID)
				acked = next
			default:
				if n.Status.IsError() {
					return &StatusError{Notification: n}
				}
			}
		}

		if paused {
			if err := c.waitNote(ctx); err != nil {
				return fmt.Errorf("waiting for xon: %w", err)
			}
			continue
		}

		if next >= total || next-acked >= statusWindow {
			st, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}
			if st.Status.IsError() {
				return &StatusError{Notification: st}
			}
			confirmed := rebase(next, st.FragmentID)
			if confirmed == acked && next > acked {
				stalls++
				if stalls >= maxStalls {
					return fmt.Errorf("%w: stuck at fragment %d", ErrNoProgress, acked)
				}
			} else {
				stalls = 0
			}
			acked = confirmed
			if acked >= total {
				break
			}
			if next != acked {
				slog.Debug("Resending fragments", "from", acked)
			}
			next = acked
			continue
		}

		end := min((next+1)*size, len(image))
		if err := c.send(protocol.NewData(byte(next), image[next*size:end])); err != nil {
			return fmt.Errorf("failed to send fragment %d: %w", next, err)
		}
		next++
		if progress != nil {
			progress(next, total)
		}
	}

	reply, err = c.Control(ctx, fota.OpCommit)
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	if reply != fota.ReplySuccess {
		return fmt.Errorf("commit rejected: %s", reply)
	}
	return nil
}
