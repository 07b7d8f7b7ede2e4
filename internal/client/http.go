package client

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client provides the shared HTTP client used to talk to the firewall
management API.

Firewalls usually present self-signed management certificates, so the
transport can be told to skip verification. Per-call deadlines come from the
caller's context; the client-level timeout is only an outer ceiling.
*/

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	defaultDialTimeout      = 5 * time.Second
	defaultKeepAliveTimeout = 60 * time.Second
	// defaultIdleConnTimeout is how long an idle keep-alive connection is kept.
	defaultIdleConnTimeout = 90 * time.Second
	defaultMaxIdleConns    = 16
	// A single management plane; a handful of connections is plenty.
	defaultMaxConnsPerHost = 8
	// defaultRequestTimeout must exceed the longest log query budget plus grace.
	defaultRequestTimeout = 2 * time.Minute

	// sharedClient is the global HTTP client instance used by the application.
	sharedClient *http.Client
	// sharedClientLock protects access to sharedClient and clientInitialized.
	sharedClientLock  sync.RWMutex
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config results in default settings.
type Config struct {
	DialTimeout      time.Duration
	KeepAliveTimeout time.Duration
	IdleConnTimeout  time.Duration
	MaxIdleConns     int
	// MaxConnsPerHost also bounds idle connections per host.
	MaxConnsPerHost int
	// RequestTimeout caps a whole request including reading the body.
	RequestTimeout time.Duration
	// InsecureSkipVerify disables certificate verification for self-signed
	// management certificates.
	InsecureSkipVerify bool
}

// DefaultConfig returns a new Config populated with default settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:      defaultDialTimeout,
		KeepAliveTimeout: defaultKeepAliveTimeout,
		IdleConnTimeout:  defaultIdleConnTimeout,
		MaxIdleConns:     defaultMaxIdleConns,
		MaxConnsPerHost:  defaultMaxConnsPerHost,
		RequestTimeout:   defaultRequestTimeout,
	}
}

// NewHTTPClient builds a standalone client from config, filling zero fields
// with defaults. config is not modified.
func NewHTTPClient(config *Config) *http.Client {
	c := DefaultConfig()
	if config != nil {
		c.InsecureSkipVerify = config.InsecureSkipVerify
		if config.DialTimeout > 0 {
			c.DialTimeout = config.DialTimeout
		}
		if config.KeepAliveTimeout > 0 {
			c.KeepAliveTimeout = config.KeepAliveTimeout
		}
		if config.IdleConnTimeout > 0 {
			c.IdleConnTimeout = config.IdleConnTimeout
		}
		if config.MaxIdleConns > 0 {
			c.MaxIdleConns = config.MaxIdleConns
		}
		if config.MaxConnsPerHost > 0 {
			c.MaxConnsPerHost = config.MaxConnsPerHost
		}
		if config.RequestTimeout > 0 {
			c.RequestTimeout = config.RequestTimeout
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.DialTimeout,
			KeepAlive: c.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxConnsPerHost,
		MaxConnsPerHost:       c.MaxConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // self-signed management certs
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   c.RequestTimeout,
	}
}

// InitHTTPClient initializes or replaces the shared client. A nil config
// means defaults. Idle connections of a replaced client are closed.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	if sharedClient != nil {
		if old, ok := sharedClient.Transport.(*http.Transport); ok && old != nil {
			old.CloseIdleConnections()
		}
	}
	sharedClient = NewHTTPClient(config)
	clientInitialized = true
}

// GetHTTPClient returns the shared client, initializing it with defaults if needed.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	client := sharedClient
	sharedClientLock.RUnlock()
	return client
}

// ConfigureForFirewall sets up the shared client for a firewall management
// interface. A non-positive timeout keeps the default ceiling.
func ConfigureForFirewall(insecure bool, timeout time.Duration) {
	cfg := DefaultConfig()
	cfg.InsecureSkipVerify = insecure
	if timeout > 0 {
		cfg.RequestTimeout = timeout
	}
	InitHTTPClient(cfg)
}
