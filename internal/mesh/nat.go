// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

package mesh

import (
	"net"
	"time"

	"github.com/huin/goupnp"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/pion/stun"
	"go.uber.org/zap"
)

// defaultSTUNServer is used by AdvertisedAddrs to learn this host's
// externally-visible address when it sits behind a NAT that libp2p's own
// AutoNAT/identify hasn't yet resolved. Best-effort only: libp2p's relay
// fallback is the path that actually guarantees reachability.
const defaultSTUNServer = "stun.l.google.com:19302"

// AdvertisedAddrs probes defaultSTUNServer for this host's external
// address. Every failure is returned to the caller; dial and client-setup
// failures are also logged at debug level. New does not call it.
func (m *Mesh) AdvertisedAddrs() (net.IP, error) {
	conn, err := net.Dial("udp4", defaultSTUNServer)
	if err != nil {
		m.log.Debug("stun dial failed", zap.Error(err))
		return nil, err
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		m.log.Debug("stun client init failed", zap.Error(err))
		return nil, err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var addr net.IP
	var doErr error
	done := make(chan struct{})
	if err := client.Start(msg, func(res stun.Event) {
		defer close(done)
		if res.Error != nil {
			doErr = res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			doErr = err
			return
		}
		addr = xorAddr.IP
	}); err != nil {
		return nil, err
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		return nil, errTimeout("stun binding request")
	}
	return addr, doErr
}

type timeoutErr string

func (e timeoutErr) Error() string { return string(e) }
func errTimeout(what string) error { return timeoutErr(what + " timed out") }

// attemptPortMapping runs once at mesh startup. It tries NAT-PMP first
// (the gateway reply is small and synchronous) and falls back to logging
// any UPnP-capable gateways it can discover. Neither path is load-bearing:
// libp2p's own hole-punching/relay machinery is the primary transport
// story, this is opportunistic.
func (m *Mesh) attemptPortMapping() {
	if gw, err := natpmp.NewClient(defaultGatewayGuess()).GetExternalAddress(); err == nil {
		m.log.Info("nat-pmp external address discovered",
			zap.String("external_ip", net.IP(gw.ExternalIPAddress[:]).String()))
		return
	}

	devices, err := goupnp.DiscoverDevices("urn:schemas-upnp-org:device:InternetGatewayDevice:1")
	if err != nil {
		m.log.Debug("no NAT traversal gateway found", zap.Error(err))
		return
	}
	for _, d := range devices {
		if d.Err != nil {
			continue
		}
		m.log.Info("upnp gateway discovered, port mapping not configured automatically",
			zap.String("location", d.Location.String()))
	}
}

// defaultGatewayGuess is a last-resort stand-in for real default-gateway
// discovery (which needs OS-specific routing table access not available
// through anything in the retrieval pack). Most home/office NAT gateways
// answer on their LAN-facing .1 address; this is a best-effort guess, not a
// substitute for a real route query.
func defaultGatewayGuess() net.IP { return net.IPv4(192, 168, 1, 1) }
