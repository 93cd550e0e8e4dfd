package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Sender posts simulated plant readings to the ingestion endpoint.
type Sender struct {
	serverURL string
	client    *http.Client
	limiter   *rate.Limiter
	verbose   bool
}

// NewSender builds a sender with optional TLS overrides. The limiter caps
// outbound requests so a fast catch-up run cannot flood the server.
func NewSender(serverURL string, rps float64, insecureSkipVerify bool, caCertFile string, verbose bool) (*Sender, error) {
	tlsConfig := &tls.Config{}
	if insecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
		log.Printf("Warning: TLS certificate verification disabled")
	} else if caCertFile != "" {
		caCert, err := os.ReadFile(caCertFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load CA certificate")
		}
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, errors.New("failed to append CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return &Sender{
		serverURL: serverURL,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		verbose: verbose,
	}, nil
}

// Send posts one payload. A transport timeout gets a single retry; the
// server treats a replayed reading as a duplicate, so the retry is safe.
func (s *Sender) Send(ctx context.Context, p Payload) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter interrupted")
	}

	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	err = s.post(ctx, body)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		log.Printf("Send timed out, retrying once")
		err = s.post(ctx, body)
	}
	return err
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", s.serverURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send reading")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("server responded %d: %s", resp.StatusCode, msg)
	}

	if s.verbose {
		var reply struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&reply); err == nil && reply.Status == "duplicate" {
			log.Printf("Server reported duplicate reading")
		}
	}
	return nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080/api/readings", "URL of the ingestion endpoint")
	plantID := flag.String("plant", "KARNAL", "plant ID to report as")
	seed := flag.Int64("seed", 1, "simulator random seed")
	start := flag.String("start", "", "simulated start time YYYY-MM-DD HH:MM:SS (default: one interval ago)")
	count := flag.Int("count", 0, "number of readings to send (0 for unlimited)")
	interval := flag.Duration("interval", time.Minute, "wall-clock delay between sends (0 to send as fast as allowed)")
	rps := flag.Float64("rate", 10, "maximum requests per second")
	partialEvery := flag.Int("partial-every", 0, "send a flow-meters-only payload every N readings (0 disables)")
	verbose := flag.Bool("verbose", false, "print each payload before sending")
	insecureSkipVerify := flag.Bool("insecure", false, "skip TLS certificate verification")
	caCertFile := flag.String("ca-cert", "", "path to CA certificate file for TLS verification")
	flag.Parse()

	startTime := time.Now().Add(-*interval)
	if *start != "" {
		t, err := time.Parse(TimestampLayout, *start)
		if err != nil {
			log.Fatalf("Invalid start time: %v", err)
		}
		startTime = t
	}

	sender, err := NewSender(*serverURL, *rps, *insecureSkipVerify, *caCertFile, *verbose)
	if err != nil {
		log.Fatalf("Failed to create sender: %v", err)
	}

	sim := NewSimulator(*seed, startTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		log.Println("Stopping...")
		cancel()
	}()

	log.Printf("Sending readings for plant %s to %s (seed %d)", *plantID, *serverURL, *seed)

	sent := 0
	for *count == 0 || sent < *count {
		var payload Payload
		if *partialEvery > 0 && (sent+1)%*partialEvery == 0 {
			payload = sim.NextPartial(*plantID)
		} else {
			payload = sim.Next(*plantID)
		}

		if *verbose {
			body, _ := json.Marshal(payload)
			log.Printf("Payload: %s", body)
		}

		if err := sender.Send(ctx, payload); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("Error sending reading: %v", err)
		} else {
			sent++
			if sent%60 == 0 {
				log.Printf("Sent %d readings, latest %s", sent, payload["timestamp"])
			}
		}

		if *interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(*interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	fmt.Printf("Done: sent %d readings\n", sent)
}
