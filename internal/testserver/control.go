// Package testserver provides in-process stand-ins for the controller's
// control and data TCP interfaces, used by the package tests.
package testserver

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/aperture-controls/blockctl/ctrl"
)

// Handler answers one complete control command. The command slice holds
// the command's lines without terminators: one line for queries and
// assignments, header plus rows plus blank line for table writes. The
// returned lines are written back verbatim, one per line.
type Handler func(command []string) []string

// Controller is a loopback control server driven by a Handler.
type Controller struct {
	listener net.Listener
	handler  Handler
	wg       sync.WaitGroup
}

// NewController starts a control server on a random loopback port.
func NewController(handler Handler) (*Controller, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	c := &Controller{listener: listener, handler: handler}
	c.wg.Add(1)
	go c.acceptLoop()
	return c, nil
}

// Addr returns the host:port the server listens on.
func (c *Controller) Addr() string {
	return c.listener.Addr().String()
}

// Port returns the TCP port the server listens on.
func (c *Controller) Port() int {
	return c.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting and waits for the accept loop to exit. Open
// client connections are not torn down; their goroutines exit when the
// client disconnects.
func (c *Controller) Close() {
	c.listener.Close()
	c.wg.Wait()
}

func (c *Controller) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		go c.serve(conn)
	}
}

func (c *Controller) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		command := []string{scanner.Text()}
		if ctrl.IsTableCommand(command[0]) {
			for scanner.Scan() {
				command = append(command, scanner.Text())
				if scanner.Text() == "" {
					break
				}
			}
		}

		resp := c.handler(command)
		if len(resp) == 0 {
			continue
		}
		if _, err := io.WriteString(conn, strings.Join(resp, "\n")+"\n"); err != nil {
			return
		}
	}
}

// Script is a Handler backed by a fixed table keyed by the command's
// first line. Unknown commands get the controller's usual complaint.
type Script map[string][]string

// Handle implements Handler.
func (s Script) Handle(command []string) []string {
	if resp, ok := s[command[0]]; ok {
		return resp
	}
	return []string{"ERR No such field"}
}
