package runway

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// DialOrigin opens the transport that will carry one request toward
// originIP:originPort over rw. The returned absoluteForm flag tells the
// caller how to write the request line: origin-form when the connection
// ends at the origin (direct and SOCKS hops), absolute-form when it ends
// at an HTTP proxy that relays on our behalf.
func (m *Manager) DialOrigin(rw *Runway, originIP string, originPort int, timeout time.Duration) (net.Conn, bool, error) {
	if !rw.Usable() {
		return nil, false, fmt.Errorf("runway %s: interface %s is gone", rw.ID, rw.Interface)
	}

	dialer := net.Dialer{Timeout: timeout}
	if src := net.ParseIP(rw.SourceIP); src != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: src}
	}

	originAddr := net.JoinHostPort(originIP, strconv.Itoa(originPort))

	if rw.IsDirect {
		conn, err := dialer.Dial("tcp", originAddr)
		if err != nil {
			return nil, false, fmt.Errorf("dial origin %s: %w", originAddr, err)
		}
		return conn, false, nil
	}

	hop := rw.Proxy
	switch hop.Type {
	case "http", "https":
		conn, err := dialer.Dial("tcp", hop.Addr())
		if err != nil {
			hop.markFailure()
			return nil, false, fmt.Errorf("dial http proxy %s: %w", hop.Addr(), err)
		}
		hop.markSuccess(time.Now().Unix())
		return conn, true, nil

	case "socks5":
		socksDialer, err := proxy.SOCKS5("tcp", hop.Addr(), nil, &dialer)
		if err != nil {
			return nil, false, fmt.Errorf("socks5 dialer for %s: %w", hop.Addr(), err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := socksDialer.(proxy.ContextDialer).DialContext(ctx, "tcp", originAddr)
		if err != nil {
			hop.markFailure()
			return nil, false, fmt.Errorf("socks5 connect via %s: %w", hop.Addr(), err)
		}
		hop.markSuccess(time.Now().Unix())
		return conn, false, nil

	case "socks4":
		conn, err := dialSocks4(&dialer, hop.Addr(), originIP, originPort, timeout)
		if err != nil {
			hop.markFailure()
			return nil, false, err
		}
		hop.markSuccess(time.Now().Unix())
		return conn, false, nil

	default:
		return nil, false, fmt.Errorf("unsupported upstream proxy type %q", hop.Type)
	}
}

// dialSocks4 performs the minimal SOCKS4 CONNECT exchange: VN=4 CD=1,
// destination port and IPv4, empty userid.
func dialSocks4(dialer *net.Dialer, hopAddr, originIP string, originPort int, timeout time.Duration) (net.Conn, error) {
	ip4 := net.ParseIP(originIP).To4()
	if ip4 == nil {
		return nil, fmt.Errorf("socks4 requires an IPv4 origin, got %q", originIP)
	}

	conn, err := dialer.Dial("tcp", hopAddr)
	if err != nil {
		return nil, fmt.Errorf("dial socks4 proxy %s: %w", hopAddr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	req := make([]byte, 0, 9)
	req = append(req, 0x04, 0x01)
	req = binary.BigEndian.AppendUint16(req, uint16(originPort))
	req = append(req, ip4...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4 request to %s: %w", hopAddr, err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4 reply from %s: %w", hopAddr, err)
	}
	if reply[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("socks4 proxy %s refused connect (code %#02x)", hopAddr, reply[1])
	}

	// Clear the handshake deadline; the caller owns I/O deadlines now.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
