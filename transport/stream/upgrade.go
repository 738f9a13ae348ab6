package stream

import (
	"github.com/ValentinKolb/rawnet/transport/common"
	"net"
	"time"
)

// UpgradeConnection applies performance options to an established stream connection
// using the values from TCPConf and SocketConf. Unix connections only get the buffer sizes.
func UpgradeConnection(conn net.Conn, conf common.Config) error {
	switch c := conn.(type) {
	case *net.TCPConn:
		return upgradeTCP(c, conf)
	case *net.UnixConn:
		return setBuffers(c, conf.Socket)
	}
	return nil // not a socket connection, nothing to upgrade
}

// upgradeTCP applies the TCP specific settings
func upgradeTCP(tcpConn *net.TCPConn, conf common.Config) error {
	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(conf.TCP.TCPNoDelay); err != nil {
		return err
	}

	if err := setBuffers(tcpConn, conf.Socket); err != nil {
		return err
	}

	// Enable TCP keep-alive if configured
	if conf.TCP.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(conf.TCP.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if conf.TCP.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(conf.TCP.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// setBuffers sets the socket buffer sizes if configured
func setBuffers(conn interface {
	SetReadBuffer(int) error
	SetWriteBuffer(int) error
}, conf common.SocketConf) error {
	if conf.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}
	if conf.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
