package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/encodeous/nhdp/perf"
	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/gaissmai/bart"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Handler receives a packet read on iface from src. buf is only valid for
// the duration of the call.
type Handler func(iface string, src store.Addr, buf []byte)

var ErrUnknownInterface = errors.New("interface not joined")

type dedupKey struct {
	iface string
	src   netip.Addr
	seqno uint16
}

// ManetSock carries HELLOs over the link-local MANET multicast groups
// (RFC 5498). One socket per address family is shared by every interface;
// received packets are attributed to an interface through the IfIndex of
// their control message.
type ManetSock struct {
	cfg state.TransportCfg
	log *slog.Logger

	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn

	mu      sync.RWMutex
	ifaces  map[string]*net.Interface
	byIndex map[int]string

	accept *bart.Table[struct{}]
	dedup  *ttlcache.Cache[dedupKey, struct{}]

	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewManetSock(ctx context.Context, cfg state.TransportCfg, log *slog.Logger) (*ManetSock, error) {
	s := newManetSock(cfg, log)
	cfg = s.cfg

	lc := net.ListenConfig{Control: manetReuse}
	port := strconv.Itoa(int(cfg.Port))
	if !cfg.DisableIPv4 {
		c, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", port))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("listening on udp4 port %s: %w", port, err), s.Close())
		}
		s.v4 = ipv4.NewPacketConn(c)
		err = multierr.Combine(
			s.v4.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true),
			s.v4.SetMulticastTTL(1),
			s.v4.SetMulticastLoopback(false),
		)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
	}
	if !cfg.DisableIPv6 {
		c, err := lc.ListenPacket(ctx, "udp6", net.JoinHostPort("::", port))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("listening on udp6 port %s: %w", port, err), s.Close())
		}
		s.v6 = ipv6.NewPacketConn(c)
		err = multierr.Combine(
			s.v6.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true),
			s.v6.SetMulticastHopLimit(1),
			s.v6.SetMulticastLoopback(false),
		)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
	}
	if s.v4 == nil && s.v6 == nil {
		return nil, multierr.Append(errors.New("both address families are disabled"), s.Close())
	}
	return s, nil
}

// newManetSock sets up the receive filters without opening sockets.
func newManetSock(cfg state.TransportCfg, log *slog.Logger) *ManetSock {
	if cfg.Port == 0 {
		cfg.Port = state.ManetPort
	}
	if !cfg.GroupV4.IsValid() {
		cfg.GroupV4 = state.ManetGroupV4
	}
	if !cfg.GroupV6.IsValid() {
		cfg.GroupV6 = state.ManetGroupV6
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = state.PacketDedupWindow
	}
	s := &ManetSock{
		cfg:     cfg,
		log:     log,
		ifaces:  make(map[string]*net.Interface),
		byIndex: make(map[int]string),
		dedup: ttlcache.New[dedupKey, struct{}](
			ttlcache.WithTTL[dedupKey, struct{}](cfg.DedupWindow),
			ttlcache.WithDisableTouchOnHit[dedupKey, struct{}](),
		),
	}
	if len(cfg.AcceptPrefixes) > 0 {
		s.accept = &bart.Table[struct{}]{}
		for _, p := range cfg.AcceptPrefixes {
			s.accept.Insert(p.Masked(), struct{}{})
		}
	}
	return s
}

// Join subscribes the OS interface name to the MANET groups.
func (s *ManetSock) Join(name string) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return err
	}
	var errs error
	if s.v4 != nil {
		errs = multierr.Append(errs, s.v4.JoinGroup(ifi, &net.UDPAddr{IP: s.cfg.GroupV4.AsSlice()}))
	}
	if s.v6 != nil {
		errs = multierr.Append(errs, s.v6.JoinGroup(ifi, &net.UDPAddr{IP: s.cfg.GroupV6.AsSlice()}))
	}
	if errs != nil {
		return fmt.Errorf("joining manet groups on %s: %w", name, errs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ifaces[name] = ifi
	s.byIndex[ifi.Index] = name
	s.log.Debug("joined manet groups", "iface", name, "index", ifi.Index)
	return nil
}

func (s *ManetSock) Leave(name string) error {
	s.mu.Lock()
	ifi, ok := s.ifaces[name]
	if ok {
		delete(s.ifaces, name)
		delete(s.byIndex, ifi.Index)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	var errs error
	if s.v4 != nil {
		errs = multierr.Append(errs, s.v4.LeaveGroup(ifi, &net.UDPAddr{IP: s.cfg.GroupV4.AsSlice()}))
	}
	if s.v6 != nil {
		errs = multierr.Append(errs, s.v6.LeaveGroup(ifi, &net.UDPAddr{IP: s.cfg.GroupV6.AsSlice()}))
	}
	return errs
}

// Send multicasts pkt on every enabled family of iface.
func (s *ManetSock) Send(ctx context.Context, iface string, pkt []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	ifi, ok := s.ifaces[iface]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}
	var errs error
	if s.v4 != nil {
		dst := &net.UDPAddr{IP: s.cfg.GroupV4.AsSlice(), Port: int(s.cfg.Port)}
		_, err := s.v4.WriteTo(pkt, &ipv4.ControlMessage{IfIndex: ifi.Index}, dst)
		errs = multierr.Append(errs, err)
	}
	if s.v6 != nil {
		dst := &net.UDPAddr{IP: s.cfg.GroupV6.AsSlice(), Port: int(s.cfg.Port), Zone: iface}
		_, err := s.v6.WriteTo(pkt, &ipv6.ControlMessage{IfIndex: ifi.Index}, dst)
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Serve reads packets until ctx is done or the sock is closed.
func (s *ManetSock) Serve(ctx context.Context, h Handler) error {
	errc := make(chan error, 2)
	if s.v4 != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			errc <- s.readLoop(func(b []byte) (int, int, net.Addr, error) {
				n, cm, src, err := s.v4.ReadFrom(b)
				if cm == nil {
					return n, 0, src, err
				}
				return n, cm.IfIndex, src, err
			}, h)
		}()
	}
	if s.v6 != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			errc <- s.readLoop(func(b []byte) (int, int, net.Addr, error) {
				n, cm, src, err := s.v6.ReadFrom(b)
				if cm == nil {
					return n, 0, src, err
				}
				return n, cm.IfIndex, src, err
			}, h)
		}()
	}
	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	err = multierr.Append(err, s.Close())
	s.wg.Wait()
	return err
}

func (s *ManetSock) readLoop(read func([]byte) (int, int, net.Addr, error), h Handler) error {
	buf := make([]byte, state.MaxDatagramSize)
	for {
		n, index, from, err := read(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.RLock()
		iface, ok := s.byIndex[index]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		ua, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		src := ua.AddrPort().Addr().Unmap()
		if !s.admit(iface, src, buf[:n]) {
			continue
		}
		h(iface, store.AddrFromNetip(src), buf[:n])
	}
}

// admit applies the source filter and drops copies of a packet already
// received on iface, keyed by the RFC 5444 packet sequence number.
func (s *ManetSock) admit(iface string, src netip.Addr, pkt []byte) bool {
	if s.accept != nil && !s.accept.Contains(src) {
		s.log.Debug("rejected packet", "iface", iface, "src", src)
		return false
	}
	seq, ok := rfc5444.PeekSeqNum(pkt)
	if !ok {
		return true
	}
	// expired keys are evicted here; the cache runs no janitor goroutine
	s.dedup.DeleteExpired()
	key := dedupKey{iface: iface, src: src, seqno: seq}
	if s.dedup.Has(key) {
		perf.DuplicatePackets.Add(1)
		return false
	}
	s.dedup.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true
}

func (s *ManetSock) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.dedup.DeleteAll()
	var errs error
	if s.v4 != nil {
		errs = multierr.Append(errs, s.v4.Close())
	}
	if s.v6 != nil {
		errs = multierr.Append(errs, s.v6.Close())
	}
	return errs
}
