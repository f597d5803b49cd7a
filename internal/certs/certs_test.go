package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	cert, err := Generate(14 * 24 * time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, cert.TLSCert.Certificate)

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	require.NoError(t, err)

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	assert.LessOrEqual(t, validity, 14*24*time.Hour+2*time.Minute)
	assert.True(t, x509Cert.NotAfter.After(time.Now()))
	assert.Equal(t, sha256.Sum256(cert.TLSCert.Certificate[0]), cert.Fingerprint)
	assert.NotEmpty(t, cert.FingerprintBase64())
	assert.Contains(t, x509Cert.DNSNames, "localhost")
}

func TestGenerateMaxValidity(t *testing.T) {
	t.Parallel()

	cert, err := Generate(30 * 24 * time.Hour)
	require.NoError(t, err)

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	require.NoError(t, err)
	assert.LessOrEqual(t, x509Cert.NotAfter.Sub(x509Cert.NotBefore), 14*24*time.Hour+2*time.Minute)
}

func TestParseFingerprint(t *testing.T) {
	t.Parallel()

	cert, err := Generate(time.Hour)
	require.NoError(t, err)

	fp, err := ParseFingerprint(cert.FingerprintBase64())
	require.NoError(t, err)
	assert.Equal(t, cert.Fingerprint, fp)

	fp, err = ParseFingerprint(hex.EncodeToString(cert.Fingerprint[:]))
	require.NoError(t, err)
	assert.Equal(t, cert.Fingerprint, fp)

	_, err = ParseFingerprint("not-a-hash")
	assert.ErrorIs(t, err, ErrBadFingerprint)
}

// handshake runs a TLS handshake over a loopback TCP connection.
func handshake(t *testing.T, server, client *tls.Config) error {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = tls.Server(conn, server).Handshake()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	err = tls.Client(conn, client).Handshake()
	conn.Close()
	<-done
	return err
}

func TestClientTLSConfigPinning(t *testing.T) {
	t.Parallel()

	cert, err := Generate(time.Hour)
	require.NoError(t, err)
	other, err := Generate(time.Hour)
	require.NoError(t, err)

	good, err := ClientTLSConfig(cert.FingerprintBase64())
	require.NoError(t, err)
	good.ServerName = "localhost"
	assert.NoError(t, handshake(t, cert.ServerTLSConfig(), good))

	bad, err := ClientTLSConfig(other.FingerprintBase64())
	require.NoError(t, err)
	bad.ServerName = "localhost"
	assert.ErrorIs(t, handshake(t, cert.ServerTLSConfig(), bad), ErrPinMismatch)

	_, err = ClientTLSConfig("zz")
	assert.ErrorIs(t, err, ErrBadFingerprint)
}
