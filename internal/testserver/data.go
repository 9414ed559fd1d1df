package testserver

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// DataServer is a loopback data server that plays one scripted
// acquisition to every client: OK, the XML header, the binary frames,
// and the END line.
type DataServer struct {
	listener net.Listener
	header   string
	frames   [][]byte
	end      string
	wg       sync.WaitGroup

	mu      sync.Mutex
	options []string
}

// NewDataServer starts a data server on a random loopback port. header
// is the XML header (a trailing newline is added if missing), frames
// are the raw sample payloads for each BIN frame, and end is the END
// line without terminator, e.g. "END 4 Disarmed".
func NewDataServer(header string, frames [][]byte, end string) (*DataServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	d := &DataServer{listener: listener, header: header, frames: frames, end: end}
	d.wg.Add(1)
	go d.acceptLoop()
	return d, nil
}

// Addr returns the host:port the server listens on.
func (d *DataServer) Addr() string {
	return d.listener.Addr().String()
}

// Port returns the TCP port the server listens on.
func (d *DataServer) Port() int {
	return d.listener.Addr().(*net.TCPAddr).Port
}

// Options returns the option lines received so far, one per client.
func (d *DataServer) Options() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.options...)
}

// Close stops accepting and waits for the accept loop to exit.
func (d *DataServer) Close() {
	d.listener.Close()
	d.wg.Wait()
}

func (d *DataServer) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.serve(conn)
	}
}

func (d *DataServer) serve(conn net.Conn) {
	defer conn.Close()

	option, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	d.mu.Lock()
	d.options = append(d.options, option)
	d.mu.Unlock()

	if _, err := io.WriteString(conn, "OK\n"); err != nil {
		return
	}

	header := d.header
	if len(header) > 0 && header[len(header)-1] != '\n' {
		header += "\n"
	}
	if _, err := io.WriteString(conn, header); err != nil {
		return
	}

	for _, payload := range d.frames {
		if _, err := conn.Write(Frame(payload)); err != nil {
			return
		}
	}

	io.WriteString(conn, d.end+"\n")
}

// Frame renders one complete binary data frame around payload: the
// "BIN " magic, the little-endian total length, and the payload.
func Frame(payload []byte) []byte {
	frame := make([]byte, 8+len(payload))
	copy(frame, "BIN ")
	binary.LittleEndian.PutUint32(frame[4:8], uint32(8+len(payload)))
	copy(frame[8:], payload)
	return frame
}
