// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collab

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/AleutianAI/firstboot/cmd/firstboot/internal/infra/process"
)

// NMNetwork implements Network with nmcli and a TCP dial.
type NMNetwork struct {
	pm     process.ProcessManager
	logger *slog.Logger
	dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewNMNetwork creates an NMNetwork.
func NewNMNetwork(pm process.ProcessManager, logger *slog.Logger) *NMNetwork {
	if logger == nil {
		logger = slog.Default()
	}
	return &NMNetwork{pm: pm, logger: logger}
}

// BringUp runs "nmcli device connect iface", which activates the best
// known profile for the device. Already-connected devices succeed.
func (n *NMNetwork) BringUp(ctx context.Context, iface string) error {
	if _, err := n.pm.Run(ctx, "nmcli", "--wait", "30", "device", "connect", iface); err != nil {
		return fmt.Errorf("bringing up %s: %w", iface, err)
	}
	return nil
}

// ConnectivityCheck dials host over TCP.
func (n *NMNetwork) ConnectivityCheck(ctx context.Context, host string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := n.dialer
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", host)
	if err != nil {
		n.logger.Debug("connectivity check failed", "host", host, "error", err)
		return false
	}
	conn.Close()
	return true
}

var _ Network = (*NMNetwork)(nil)
