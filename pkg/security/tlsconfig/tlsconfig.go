// Package tlsconfig builds tls.Config values for the management surface,
// including mutual TLS and lazy certificate reload for manual rotation.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "os"
    "sync"
    "time"
)

// Options describes the TLS material for one side of the management API.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
}

// certTTL bounds how long a loaded key pair is served before it is re-read
// from disk on the next handshake.
const certTTL = 10 * time.Second

func caPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil {
        return nil, err
    }
    pool := x509.NewCertPool()
    pool.AppendCertsFromPEM(pem)
    return pool, nil
}

// Server builds a server-side config, or nil when TLS is disabled. Setting
// CAFile turns on client certificate verification (mutual TLS).
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil {
        return nil, err
    }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
    if o.CAFile != "" {
        pool, err := caPool(o.CAFile)
        if err != nil {
            return nil, err
        }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client builds a client-side config, or nil when TLS is disabled.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    cfg := &tls.Config{
        InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec
        ServerName:         o.ServerName,
    }
    if o.CAFile != "" {
        pool, err := caPool(o.CAFile)
        if err != nil {
            return nil, err
        }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil {
            return nil, err
        }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// reloadingCert re-reads a key pair from disk when the cached copy is older
// than certTTL. Handshakes between reloads keep serving the cached pair.
func reloadingCert(certFile, keyFile string) func() (*tls.Certificate, error) {
    var (
        mu     sync.RWMutex
        cached *tls.Certificate
        loaded time.Time
    )
    return func() (*tls.Certificate, error) {
        mu.RLock()
        if cached != nil && time.Since(loaded) < certTTL {
            c := *cached
            mu.RUnlock()
            return &c, nil
        }
        mu.RUnlock()
        cert, err := tls.LoadX509KeyPair(certFile, keyFile)
        if err != nil {
            return nil, err
        }
        mu.Lock()
        cached = &cert
        loaded = time.Now()
        mu.Unlock()
        return &cert, nil
    }
}

// ServerHotReload is Server with lazy certificate reload, so rotated certs
// are picked up without restarting the node. The CA pool is loaded once.
func (o Options) ServerHotReload() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cfg := &tls.Config{}
    if o.CAFile != "" {
        pool, err := caPool(o.CAFile)
        if err != nil {
            return nil, err
        }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    load := reloadingCert(o.CertFile, o.KeyFile)
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
        return load()
    }
    return cfg, nil
}

// ClientHotReload is Client with lazy certificate reload. The CA roots are
// loaded once.
func (o Options) ClientHotReload() (*tls.Config, error) {
    if !o.Enable {
        return nil, nil
    }
    cfg := &tls.Config{
        InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec
        ServerName:         o.ServerName,
    }
    if o.CAFile != "" {
        pool, err := caPool(o.CAFile)
        if err != nil {
            return nil, err
        }
        cfg.RootCAs = pool
    }
    if o.CertFile == "" || o.KeyFile == "" {
        return cfg, nil
    }
    load := reloadingCert(o.CertFile, o.KeyFile)
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
        return load()
    }
    return cfg, nil
}
