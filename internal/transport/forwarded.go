package transport

import (
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"brld/internal/brlerr"
)

// forwardedEndpoint tunnels a device reachable only through an SSH-
// accessible host: the daemon dials the remote identifier's TCP endpoint
// (e.g. a ser2net bridge) over the SSH connection's Dial, rather than
// shelling out to the ssh(1) binary.
//
// Holds a key-based ssh.ClientConfig and a persistent *ssh.Client,
// generalized from a command channel to a raw byte tunnel.
type forwardedEndpoint struct {
	client *ssh.Client
	conn   net.Conn

	mu      sync.Mutex
	peeked  bool
	peekVal byte
}

// OpenForwarded dials desc.SSHHost as desc.SSHUser using the private key at
// desc.SSHPrivateKeyPath, then opens a TCP tunnel to desc.RemoteIdentifier
// (host:port as seen from the remote side).
func OpenForwarded(desc Descriptor) (Endpoint, error) {
	key, err := os.ReadFile(desc.SSHPrivateKeyPath)
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "reading ssh private key", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, brlerr.Wrap(brlerr.InvalidInput, "parsing ssh private key", err)
	}

	config := &ssh.ClientConfig{
		User:            desc.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(desc.SSHHost, desc.SSHPort)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "dialing ssh host "+addr, err)
	}

	conn, err := client.Dial("tcp", desc.RemoteIdentifier)
	if err != nil {
		_ = client.Close()
		return nil, brlerr.Wrap(brlerr.Io, "forwarding to "+desc.RemoteIdentifier, err)
	}

	return &forwardedEndpoint{client: client, conn: conn}, nil
}

func (f *forwardedEndpoint) ReadByte(timeout time.Duration) (byte, bool, error) {
	f.mu.Lock()
	if f.peeked {
		b := f.peekVal
		f.peeked = false
		f.mu.Unlock()
		return b, true, nil
	}
	f.mu.Unlock()

	buf := make([]byte, 1)
	n, err := f.readWithTimeout(buf, timeout)
	if n == 0 {
		return 0, false, err
	}
	return buf[0], true, nil
}

func (f *forwardedEndpoint) ReadData(buf []byte, initialTimeout, subsequentTimeout time.Duration) (int, error) {
	total := 0
	b, ok, err := f.ReadByte(initialTimeout)
	if !ok {
		return total, err
	}
	buf[total] = b
	total++
	for total < len(buf) {
		b, ok, err := f.ReadByte(subsequentTimeout)
		if !ok {
			return total, err
		}
		buf[total] = b
		total++
	}
	return total, nil
}

func (f *forwardedEndpoint) readWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = f.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = f.conn.SetReadDeadline(time.Now())
	}
	n, err := f.conn.Read(buf)
	if err != nil {
		if isTimeoutErr(err) {
			return n, nil
		}
		return n, brlerr.Wrap(brlerr.Io, "reading forwarded tunnel", err)
	}
	return n, nil
}

func (f *forwardedEndpoint) WriteData(buf []byte) (int, error) {
	n, err := f.conn.Write(buf)
	if err != nil {
		return n, brlerr.Wrap(brlerr.Io, "writing forwarded tunnel", err)
	}
	return n, nil
}

func (f *forwardedEndpoint) Ready() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peeked {
		return true, nil
	}
	buf := make([]byte, 1)
	n, err := f.readWithTimeout(buf, 0)
	if n > 0 {
		f.peeked = true
		f.peekVal = buf[0]
		return true, nil
	}
	return false, err
}

func (f *forwardedEndpoint) Close() error {
	err := f.conn.Close()
	_ = f.client.Close()
	return err
}
