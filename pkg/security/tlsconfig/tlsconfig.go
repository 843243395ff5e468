// Package tlsconfig builds mutual TLS configs for the peer and management
// transports. Certificates are re-read from disk so rotated files are picked
// up without a restart.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// DefaultReload is how long a loaded key pair is reused before the files
// are read again.
const DefaultReload = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
    // Reload overrides DefaultReload. Negative disables reloading.
    Reload time.Duration
}

// Server returns a server config requiring client certificates when a CA is
// configured, or nil when TLS is disabled.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    kp, err := o.keyPair()
    if err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a client config presenting the key pair when one is
// configured, or nil when TLS is disabled.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        kp, err := o.keyPair()
        if err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    }
    return cfg, nil
}

// Pair returns both configs.
func (o Options) Pair() (server, client *tls.Config, err error) {
    if server, err = o.Server(); err != nil { return nil, nil, err }
    if client, err = o.Client(); err != nil { return nil, nil, err }
    return server, client, nil
}

func (o Options) keyPair() (*keyPair, error) {
    ttl := o.Reload
    if ttl == 0 { ttl = DefaultReload }
    kp := &keyPair{certFile: o.CertFile, keyFile: o.KeyFile, ttl: ttl}
    // fail fast on unreadable files
    if _, err := kp.get(); err != nil { return nil, err }
    return kp, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) {
        return nil, fmt.Errorf("tls: no certificates in %s", path)
    }
    return pool, nil
}

// keyPair caches a certificate, re-reading it after ttl. A failed re-read
// keeps serving the previous certificate.
type keyPair struct {
    certFile, keyFile string
    ttl               time.Duration

    mu     sync.Mutex
    cached *tls.Certificate
    loaded time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && (k.ttl < 0 || time.Since(k.loaded) < k.ttl) {
        return k.cached, nil
    }
    cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
    if err != nil {
        if k.cached != nil { return k.cached, nil }
        return nil, err
    }
    k.cached, k.loaded = &cert, time.Now()
    return k.cached, nil
}
