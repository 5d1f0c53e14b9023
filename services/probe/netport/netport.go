// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package netport hands out currently-free TCP ports.
package netport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrPortAllocation indicates the OS refused an ephemeral bind.
var ErrPortAllocation = errors.New("port allocation failed")

// Allocate returns n distinct TCP ports that were free on addr.
//
// Description:
//
//	Binds one ephemeral listener (port 0) at a time and reads back the
//	port the OS assigned. Listeners stay open until all n ports are known,
//	so the OS cannot hand the same port out twice within one call; all of
//	them are closed before Allocate returns. Nothing stops another process
//	from taking a port between return and use.
//
// Inputs:
//
//	ctx - Context for cancellation
//	addr - Bind address, e.g. "127.0.0.1" or "::1"
//	n - Number of ports, at least 1
//
// Outputs:
//
//	[]int - n pairwise-distinct port numbers in allocation order
//	error - Wraps ErrPortAllocation on any bind failure
func Allocate(ctx context.Context, addr string, n int) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: need at least one port, got %d", ErrPortAllocation, n)
	}

	var lc net.ListenConfig
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for len(ports) < n {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPortAllocation, err)
		}

		l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(addr, "0"))
		if err != nil {
			return nil, fmt.Errorf("%w: listen on %s: %v", ErrPortAllocation, addr, err)
		}
		listeners = append(listeners, l)

		port, err := portOf(l.Addr())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPortAllocation, err)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func portOf(a net.Addr) (int, error) {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.Port, nil
	}
	_, p, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0, fmt.Errorf("parse listener address %q: %w", a.String(), err)
	}
	return strconv.Atoi(p)
}
