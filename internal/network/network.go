// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package network

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/osbuilders/debian-media-tools/internal/logger"
)

const cacheProbeTimeout = 2 * time.Second

// ProbeCache reports whether the optional package cache at cacheURL is
// reachable. A single short-timeout probe; absence is not an error, the
// caller falls back to direct fetches.
func ProbeCache(cacheURL string) bool {
	if cacheURL == "" {
		return false
	}

	parsed, err := url.Parse(cacheURL)
	if err != nil {
		logger.Log.Warnf("Ignoring malformed package cache URL (%s): %v", cacheURL, err)
		return false
	}

	host := parsed.Host
	if parsed.Port() == "" {
		port := "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
		host = fmt.Sprintf("%s:%s", parsed.Hostname(), port)
	}

	conn, err := net.DialTimeout("tcp", host, cacheProbeTimeout)
	if err != nil {
		logger.Log.Debugf("Package cache (%s) not reachable: %v", cacheURL, err)
		return false
	}
	conn.Close()

	logger.Log.Infof("Package cache (%s) is reachable, routing package fetches through it", cacheURL)
	return true
}
