package dnsserver

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faanross/simulacra_png/internal/chunker"
)

// Server answers TXT queries for the drop zone:
//
//	m-<id>.data.<domain>          manifest
//	c-<n>-<id>.data.<domain>      chunk n
//	consume.<client>.<domain>     ids not yet handed to client, one per string
//	ack.<id>.<client>.<domain>    mark id consumed
type Server struct {
	domain  string
	ttl     uint32
	storage Storage
	queue   *QueueManager
	logger  *zap.Logger
	started time.Time
}

// NewServer creates a drop server for domain backed by storage
func NewServer(domain string, ttl uint32, storage Storage, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		domain:  strings.ToLower(strings.TrimSuffix(domain, ".")),
		ttl:     ttl,
		storage: storage,
		queue:   NewQueueManager(storage),
		logger:  logger,
		started: time.Now(),
	}
}

// Queue exposes the server's queue manager.
func (s *Server) Queue() *QueueManager {
	return s.queue
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	if len(r.Question) != 1 {
		msg.Rcode = dns.RcodeFormatError
		w.WriteMsg(msg)
		return
	}

	q := r.Question[0]
	qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	msg.Rcode = s.answer(qname, q.Qtype, msg)

	size := dns.MinMsgSize
	if opt := r.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
	}
	if _, isUDP := w.RemoteAddr().(*net.UDPAddr); isUDP {
		msg.Truncate(size)
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Warn("dns write failed", zap.String("qname", qname), zap.Error(err))
	}
}

func (s *Server) answer(qname string, qtype uint16, msg *dns.Msg) int {
	if qname != s.domain && !strings.HasSuffix(qname, "."+s.domain) {
		return dns.RcodeRefused
	}
	if qtype != dns.TypeTXT && qtype != dns.TypeANY {
		return dns.RcodeSuccess
	}

	labels := strings.Split(strings.TrimSuffix(qname, s.domain), ".")
	labels = labels[:len(labels)-1] // trailing empty element before the domain

	switch {
	case len(labels) == 0:
		return dns.RcodeSuccess
	case len(labels) == 2 && labels[1] == chunker.DefaultSubdomain:
		return s.answerData(qname, labels[0], msg)
	case len(labels) == 2 && labels[0] == "consume":
		return s.answerConsume(qname, labels[1], msg)
	case len(labels) == 3 && labels[0] == "ack":
		return s.answerAck(qname, labels[1], labels[2], msg)
	}
	return dns.RcodeNameError
}

func (s *Server) answerData(qname, label string, msg *dns.Msg) int {
	var value string
	var err error

	switch {
	case strings.HasPrefix(label, "m-"):
		var m *Message
		if m, err = s.storage.GetMessage(strings.TrimPrefix(label, "m-")); err == nil {
			value = m.Manifest
		}
	case strings.HasPrefix(label, "c-"):
		msgID, ok := chunkMessageID(label)
		if !ok {
			return dns.RcodeNameError
		}
		value, err = s.storage.GetChunk(msgID, label)
	default:
		return dns.RcodeNameError
	}

	if errors.Is(err, ErrNotFound) {
		return dns.RcodeNameError
	}
	if err != nil {
		s.logger.Error("storage lookup failed", zap.String("qname", qname), zap.Error(err))
		return dns.RcodeServerFailure
	}

	msg.Answer = append(msg.Answer, s.txt(qname, s.ttl, value))
	s.logger.Debug("served", zap.String("qname", qname))
	return dns.RcodeSuccess
}

// chunkMessageID splits c-<n>-<id>.
func chunkMessageID(label string) (string, bool) {
	parts := strings.Split(label, "-")
	if len(parts) != 3 || parts[2] == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(parts[1], 10, 16); err != nil {
		return "", false
	}
	return parts[2], true
}

func (s *Server) answerConsume(qname, clientID string, msg *dns.Msg) int {
	messages, err := s.queue.ConsumeMessages(clientID)
	if err != nil {
		s.logger.Error("consume failed", zap.String("client", clientID), zap.Error(err))
		return dns.RcodeServerFailure
	}
	if len(messages) == 0 {
		return dns.RcodeSuccess
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	msg.Answer = append(msg.Answer, s.txt(qname, 0, ids...))
	s.logger.Info("messages announced", zap.String("client", clientID), zap.Strings("ids", ids))
	return dns.RcodeSuccess
}

func (s *Server) answerAck(qname, msgID, clientID string, msg *dns.Msg) int {
	err := s.queue.AcknowledgeMessage(msgID, clientID)
	if errors.Is(err, ErrNotFound) {
		return dns.RcodeNameError
	}
	if err != nil {
		s.logger.Error("ack failed", zap.String("message_id", msgID), zap.Error(err))
		return dns.RcodeServerFailure
	}
	msg.Answer = append(msg.Answer, s.txt(qname, 0, "ok"))
	s.logger.Info("message acknowledged", zap.String("message_id", msgID), zap.String("client", clientID))
	return dns.RcodeSuccess
}

func (s *Server) txt(qname string, ttl uint32, values ...string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(qname),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Txt: values,
	}
}

// ListenAndServe serves DNS on addr over UDP and TCP until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		pc.Close()
		return err
	}
	return s.Serve(ctx, pc, ln)
}

// Serve answers on already bound sockets. ln may be nil.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn, ln net.Listener) error {
	servers := []*dns.Server{{PacketConn: pc, Handler: s}}
	if ln != nil {
		servers = append(servers, &dns.Server{Listener: ln, Handler: s})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(srv.ActivateAndServe)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			srv.ShutdownContext(shutdownCtx)
		}
		// unblocks a server that had not started when shutdown ran
		pc.Close()
		if ln != nil {
			ln.Close()
		}
		return nil
	})

	s.logger.Info("dns server listening",
		zap.String("addr", pc.LocalAddr().String()),
		zap.String("domain", s.domain),
	)
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RunCleanup drops messages older than ttl every interval until ctx is done.
func (s *Server) RunCleanup(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.storage.CleanExpired(ttl)
			if err != nil {
				s.logger.Error("cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("expired messages removed", zap.Int("count", removed))
			}
		}
	}
}
