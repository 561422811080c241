// Package discovery announces hosted boards on the local network over mDNS
// and lists the boards other agents announce. It is informational only.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	DefaultService = "_retroboard._tcp"
	DefaultDomain  = "local."
)

// Board is a board announced on the LAN.
type Board struct {
	BoardID string   `json:"boardId"`
	Name    string   `json:"name"`
	Host    string   `json:"host"`
	Port    int      `json:"port"`
	Addrs   []string `json:"addrs"`
}

func InstanceName(boardID string) string { return "retroboard-" + boardID }

func txtRecords(boardID, name string) []string {
	return []string{"board=" + boardID, "name=" + name}
}

func parseEntry(e *zeroconf.ServiceEntry) (Board, bool) {
	b := Board{Host: e.HostName, Port: e.Port}
	for _, kv := range e.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "board":
			b.BoardID = v
		case "name":
			b.Name = v
		}
	}
	if b.BoardID == "" {
		return Board{}, false
	}
	for _, ip := range e.AddrIPv4 {
		b.Addrs = append(b.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		b.Addrs = append(b.Addrs, ip.String())
	}
	return b, true
}

// Browse collects announced boards until ctx is done.
func Browse(ctx context.Context, service, domain string) ([]Board, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("init mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Board)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range entries {
			if b, ok := parseEntry(e); ok {
				found[b.BoardID] = b
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", service, err)
	}
	<-ctx.Done()
	<-collected

	boards := make([]Board, 0, len(found))
	for _, b := range found {
		boards = append(boards, b)
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].BoardID < boards[j].BoardID })
	return boards, nil
}

type registration interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string) (registration, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// Announcer advertises the board while this agent hosts it.
type Announcer struct {
	service  string
	domain   string
	port     int
	logger   *zap.Logger
	register registerFunc

	current registration
	boardID string
	name    string
}

func NewAnnouncer(service, domain string, port int, logger *zap.Logger) *Announcer {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{
		service:  service,
		domain:   domain,
		port:     port,
		logger:   logger,
		register: zeroconfRegister,
	}
}

// Update starts, refreshes or stops the announcement. Not safe for
// concurrent use.
func (a *Announcer) Update(boardID, name string, hosting bool) error {
	if !hosting || (a.current != nil && boardID != a.boardID) {
		a.Close()
	}
	if !hosting {
		return nil
	}
	if a.current != nil {
		if name != a.name {
			a.current.SetText(txtRecords(boardID, name))
			a.name = name
		}
		return nil
	}

	reg, err := a.register(InstanceName(boardID), a.service, a.domain, a.port, txtRecords(boardID, name))
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	a.current, a.boardID, a.name = reg, boardID, name
	a.logger.Info("mDNS service registered",
		zap.String("service", a.service),
		zap.String("boardId", boardID),
		zap.Int("port", a.port))
	return nil
}

func (a *Announcer) Close() {
	if a.current == nil {
		return
	}
	a.current.Shutdown()
	a.logger.Info("mDNS service withdrawn", zap.String("boardId", a.boardID))
	a.current, a.boardID, a.name = nil, "", ""
}
