// Package portforward requests a public port on the VPN gateway while the
// tunnel is up, so peer-to-peer software behind the provider's NAT stays
// reachable. Mappings are leased via NAT-PMP (RFC 6886) and renewed halfway
// through their lifetime.
package portforward

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// natpmpPort is the UDP port NAT-PMP gateways listen on.
	natpmpPort = 5351

	// requestedLifetime is the mapping lifetime asked of the gateway. The
	// gateway may answer with a shorter one.
	requestedLifetime = 60 * time.Second

	natpmpVersion    = 0
	opMapUDP         = 1
	responseBit      = 128
	resultSuccess    = 0
	responseDeadline = 4 * time.Second
)

// Mapping is a leased public port.
type Mapping struct {
	PublicPort int
	Lifetime   time.Duration
}

// Mapper leases a public port on a gateway and releases it again.
type Mapper interface {
	Map(ctx context.Context, gateway string) (*Mapping, error)
	Unmap(ctx context.Context, gateway string) error
}

// NATPMPMapper talks NAT-PMP to the tunnel gateway.
type NATPMPMapper struct {
	// InternalPort is the port the mapping points at. Zero lets the gateway
	// mirror the external port.
	InternalPort int
}

// Map leases a UDP mapping with the requested lifetime.
func (m *NATPMPMapper) Map(ctx context.Context, gateway string) (*Mapping, error) {
	resp, err := m.request(ctx, gateway, requestedLifetime)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Unmap releases the mapping by requesting a zero lifetime.
func (m *NATPMPMapper) Unmap(ctx context.Context, gateway string) error {
	_, err := m.request(ctx, gateway, 0)
	return err
}

func (m *NATPMPMapper) request(ctx context.Context, gateway string, lifetime time.Duration) (*Mapping, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(gateway, strconv.Itoa(natpmpPort)))
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(responseDeadline)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	req := make([]byte, 12)
	req[0] = natpmpVersion
	req[1] = opMapUDP
	binary.BigEndian.PutUint16(req[4:6], uint16(m.InternalPort))
	binary.BigEndian.PutUint16(req[6:8], 0) // any external port
	binary.BigEndian.PutUint32(req[8:12], uint32(lifetime/time.Second))
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("send mapping request: %w", err)
	}

	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("read mapping response: %w", err)
	}
	if n < 16 || resp[1] != responseBit|opMapUDP {
		return nil, fmt.Errorf("malformed mapping response (%d bytes, opcode %d)", n, resp[1])
	}
	if code := binary.BigEndian.Uint16(resp[2:4]); code != resultSuccess {
		return nil, fmt.Errorf("gateway refused mapping (result %d)", code)
	}

	return &Mapping{
		PublicPort: int(binary.BigEndian.Uint16(resp[10:12])),
		Lifetime:   time.Duration(binary.BigEndian.Uint32(resp[12:16])) * time.Second,
	}, nil
}
