// Package quic is a byte transport carrying one bidirectional QUIC stream
// per connection.
package quic

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"sbnet/pkg/transport"
)

const alpn = "sbnet"

// Transport dials and listens on QUIC. Listeners present an ephemeral
// self-signed certificate; peers are authenticated by the application
// handshake, not by TLS.
type Transport struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	conf      *quicgo.Config
}

// New generates the listener certificate.
func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("quic: certificate: %w", err)
	}
	return &Transport{
		serverTLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		clientTLS: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
			MinVersion:         tls.VersionTLS13,
		},
		conf: &quicgo.Config{
			KeepAlivePeriod: 15 * time.Second,
		},
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.serverTLS, t.conf)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ql := &listener{l: l, cancel: cancel, newCh: make(chan *conn, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = ql.Close()
	}()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	qc, err := quicgo.DialAddr(ctx, address, t.clientTLS, t.conf)
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, err
	}
	return &conn{c: qc, s: st}, nil
}

type listener struct {
	l       *quicgo.Listener
	cancel  context.CancelFunc
	newCh   chan *conn
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, transport.ErrListenerClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		l.cancel()
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		qc, err := l.l.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				zap.L().Warn("quic accept failed", zap.String("addr", l.l.Addr().String()), zap.Error(err))
			}
			return
		}
		// the dialer opens the stream and writes its hello right away
		go func() {
			st, err := qc.AcceptStream(ctx)
			if err != nil {
				_ = qc.CloseWithError(0, "")
				return
			}
			select {
			case l.newCh <- &conn{c: qc, s: st}:
			case <-l.closeCh:
				_ = qc.CloseWithError(0, "listener closed")
			}
		}()
	}
}

// conn adapts a QUIC connection and its single stream to transport.Conn.
type conn struct {
	c    quicgo.Connection
	s    quicgo.Stream
	once sync.Once
}

func (c *conn) Read(b []byte) (int, error)  { return c.s.Read(b) }
func (c *conn) Write(b []byte) (int, error) { return c.s.Write(b) }
func (c *conn) LocalAddr() net.Addr         { return c.c.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr        { return c.c.RemoteAddr() }

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.s.Close()
		err = c.c.CloseWithError(0, "")
	})
	return err
}

// selfSignedCert generates a short-lived certificate for the listener.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
