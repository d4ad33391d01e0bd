package dnsserver

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startDNS serves s on a loopback UDP socket until the test ends.
func startDNS(t *testing.T, s *Server) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, pc, nil) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dns server did not stop")
		}
	})
	return pc.LocalAddr().String()
}

func query(t *testing.T, addr, name string, qtype uint16) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	c := &dns.Client{Timeout: 2 * time.Second}
	resp, _, err := c.Exchange(m, addr)
	if err != nil {
		t.Fatalf("query %s: %v", name, err)
	}
	return resp
}

func txtValue(t *testing.T, resp *dns.Msg) string {
	t.Helper()
	if len(resp.Answer) != 1 {
		t.Fatalf("answers = %d, want 1 (rcode %s)", len(resp.Answer), dns.RcodeToString[resp.Rcode])
	}
	txt, ok := resp.Answer[0].(*dns.TXT)
	if !ok {
		t.Fatalf("answer is %T, want *dns.TXT", resp.Answer[0])
	}
	if len(txt.Txt) != 1 {
		t.Fatalf("TXT strings = %d, want 1", len(txt.Txt))
	}
	return txt.Txt[0]
}

func TestServeDNS(t *testing.T) {
	srv := NewServer(testDomain+".", 60, NewMemoryStorage(), nil)
	msg, req := chunkedUpload(t, 500)
	if _, err := srv.Queue().PublishMessage(req.MessageID, req.Chunks, req.Manifest); err != nil {
		t.Fatal(err)
	}
	addr := startDNS(t, srv)
	id := msg.ShortID()

	t.Run("manifest", func(t *testing.T) {
		resp := query(t, addr, "m-"+id+".data."+testDomain, dns.TypeTXT)
		if !resp.Authoritative {
			t.Error("answer not authoritative")
		}
		if got := txtValue(t, resp); got != req.Manifest {
			t.Errorf("manifest = %q, want %q", got, req.Manifest)
		}
	})

	t.Run("chunks", func(t *testing.T) {
		for i, chunk := range msg.Chunks {
			name := "c-" + itoa(i) + "-" + id + ".data." + testDomain
			resp := query(t, addr, name, dns.TypeTXT)
			if got := txtValue(t, resp); got != chunk.Encoded {
				t.Errorf("chunk %d mismatch", i)
			}
			if ttl := resp.Answer[0].Header().Ttl; ttl != 60 {
				t.Errorf("chunk ttl = %d, want 60", ttl)
			}
		}
	})

	rcodes := []struct {
		name  string
		qname string
		qtype uint16
		want  int
	}{
		{"unknown chunk", "c-99-" + id + ".data." + testDomain, dns.TypeTXT, dns.RcodeNameError},
		{"unknown message", "m-ffffffffffffffff.data." + testDomain, dns.TypeTXT, dns.RcodeNameError},
		{"bad chunk label", "c-x-" + id + ".data." + testDomain, dns.TypeTXT, dns.RcodeNameError},
		{"unknown label", "www." + testDomain, dns.TypeTXT, dns.RcodeNameError},
		{"out of zone", "example.org", dns.TypeTXT, dns.RcodeRefused},
		{"apex", testDomain, dns.TypeTXT, dns.RcodeSuccess},
		{"non-TXT", "m-" + id + ".data." + testDomain, dns.TypeA, dns.RcodeSuccess},
		{"mixed case", "M-" + id + ".DATA.Covert.Example.COM", dns.TypeTXT, dns.RcodeSuccess},
	}
	for _, tt := range rcodes {
		t.Run(tt.name, func(t *testing.T) {
			resp := query(t, addr, tt.qname, tt.qtype)
			if resp.Rcode != tt.want {
				t.Errorf("rcode = %s, want %s", dns.RcodeToString[resp.Rcode], dns.RcodeToString[tt.want])
			}
		})
	}
}

func TestServeDNSConsumeAck(t *testing.T) {
	srv := NewServer(testDomain, 60, NewMemoryStorage(), nil)
	msg, req := chunkedUpload(t, 100)
	srv.Queue().PublishMessage(req.MessageID, req.Chunks, req.Manifest)
	addr := startDNS(t, srv)
	id := msg.ShortID()

	resp := query(t, addr, "consume.alice."+testDomain, dns.TypeTXT)
	if got := txtValue(t, resp); got != id {
		t.Errorf("consume = %q, want %q", got, id)
	}
	if ttl := resp.Answer[0].Header().Ttl; ttl != 0 {
		t.Errorf("consume ttl = %d, want 0", ttl)
	}

	resp = query(t, addr, "consume.alice."+testDomain, dns.TypeTXT)
	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) != 0 {
		t.Errorf("second consume: rcode %d, %d answers", resp.Rcode, len(resp.Answer))
	}

	resp = query(t, addr, "ack."+id+".alice."+testDomain, dns.TypeTXT)
	if got := txtValue(t, resp); got != "ok" {
		t.Errorf("ack = %q, want ok", got)
	}
	if status, _ := srv.Queue().GetMessageStatus(id); status != "consumed" {
		t.Errorf("status after ack = %q", status)
	}

	resp = query(t, addr, "ack.ffffffffffffffff.alice."+testDomain, dns.TypeTXT)
	if resp.Rcode != dns.RcodeNameError {
		t.Errorf("ack of unknown id rcode = %s", dns.RcodeToString[resp.Rcode])
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- NewServer(testDomain, 60, NewMemoryStorage(), nil).Serve(ctx, pc, nil) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestRunCleanup(t *testing.T) {
	store := NewMemoryStorage()
	store.StoreMessage(testMessage("aa01", time.Hour))
	srv := NewServer(testDomain, 60, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunCleanup(ctx, 10*time.Millisecond, time.Minute)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if all, _ := store.ListMessages(); len(all) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if all, _ := store.ListMessages(); len(all) != 0 {
		t.Errorf("expired message survived cleanup")
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
