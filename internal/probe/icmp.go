package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

var icmpSeq atomic.Uint32

// ICMPPing sends one echo request without shelling out.
//
// Unprivileged mode uses a datagram ICMP socket ("udp4"), which Linux
// allows when net.ipv4.ping_group_range covers the process group and macOS
// allows by default. Privileged mode opens a raw socket.
type ICMPPing struct {
	Address    string
	Privileged bool
	// Timeout bounds the wait for a reply when ctx has no deadline.
	Timeout time.Duration
}

func NewICMPPing(address string, privileged bool) *ICMPPing {
	return &ICMPPing{Address: address, Privileged: privileged, Timeout: 5 * time.Second}
}

func (p *ICMPPing) Kind() Kind { return KindPing }

func (p *ICMPPing) Probe(ctx context.Context) Result {
	start := time.Now()
	ping, err := p.echo(ctx)
	if err != nil {
		return Result{Kind: KindPing, Err: fmt.Errorf("icmp %s: %w", p.Address, err), Duration: time.Since(start)}
	}
	return Result{Kind: KindPing, Ping: ping, Duration: time.Since(start)}
}

func (p *ICMPPing) network() string {
	if p.Privileged {
		return "ip4:icmp"
	}
	return "udp4"
}

func (p *ICMPPing) echo(ctx context.Context) (Ping, error) {
	ip, err := resolveIPv4(ctx, p.Address)
	if err != nil {
		return Ping{}, err
	}

	conn, err := icmp.ListenPacket(p.network(), "0.0.0.0")
	if err != nil {
		return Ping{}, fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Ping{}, err
	}

	// Unblock the read when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	pc := conn.IPv4PacketConn()
	_ = pc.SetControlMessage(ipv4.FlagTTL, true)

	seq := int(icmpSeq.Add(1) & 0xffff)
	payload := []byte("netwatch-echo")
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: os.Getpid() & 0xffff, Seq: seq, Data: payload},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return Ping{}, fmt.Errorf("marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !p.Privileged {
		dst = &net.UDPAddr{IP: ip}
	}

	sent := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return Ping{}, fmt.Errorf("send: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		n, cm, _, err := pc.ReadFrom(rb)
		if err != nil {
			if ctx.Err() != nil {
				return Ping{}, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return Ping{}, ErrNoReply
			}
			return Ping{}, fmt.Errorf("receive: %w", err)
		}
		rtt := time.Since(sent)

		reply, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		// The kernel rewrites the ID of datagram sockets; match on seq only.
		if !ok || echo.Seq != seq {
			continue
		}

		ttl := 0
		if cm != nil {
			ttl = cm.TTL
		}
		return Ping{
			RoundTripMs: float64(rtt.Microseconds()) / 1000,
			TTL:         ttl,
			Bytes:       n,
			Seq:         seq,
			Target:      p.Address,
		}, nil
	}
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("not an IPv4 address: %s", host)
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve: no IPv4 address for %s", host)
	}
	return addrs[0], nil
}
