package brlapi

import (
	"net"

	"golang.org/x/sys/unix"

	"brld/internal/auth"
)

// peerInfo extracts the connecting peer's credentials for a unix-domain
// stream socket via SO_PEERCRED; any other transport (tcp, in particular)
// has no credentials to offer and returns a zero PeerInfo, which fails any
// peer-credential auth scheme that requires them.
func peerInfo(conn net.Conn) auth.PeerInfo {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return auth.PeerInfo{}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return auth.PeerInfo{}
	}
	var info auth.PeerInfo
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			return
		}
		info = auth.PeerInfo{HasCreds: true, UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}
	})
	if ctrlErr != nil {
		return auth.PeerInfo{}
	}
	return info
}
