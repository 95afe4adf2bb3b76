// Command sbnet-ctl dials a node and issues one api request.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"

	"sbnet/pkg/api"
	"sbnet/pkg/config"
	netstack "sbnet/pkg/core/netstack"
	"sbnet/pkg/manager"
	"sbnet/pkg/netid"
	"sbnet/pkg/request"
	"sbnet/pkg/transport"
)

func main() {
	kind := flag.String("kind", "tcp", "transport kind: tcp|quic|winpipe")
	addr := flag.String("addr", "127.0.0.1:7777", "node address to connect to")
	label := flag.String("label", "sbnet-ctl", "label sent in the hello")
	server := flag.String("server", "", "expected server label, empty accepts any")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and request timeout")
	text := flag.String("text", "hello", "echo: text to send")
	meta := flag.String("meta", "", "echo: comma separated key=value pairs")
	verbose := flag.Bool("v", false, "log connection activity to stderr")
	flag.Parse()

	cmd := "status"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fatalf("logger: %v", err)
		}
		log = l
	}
	defer func() { _ = log.Sync() }()

	k, err := transport.ParseKind(*kind)
	if err != nil {
		fatalf("%v", err)
	}
	tr, err := netstack.NewByKind(k)
	if err != nil {
		fatalf("new transport: %v", err)
	}

	// ephemeral identity for ctl
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fatalf("gen key: %v", err)
	}
	remote, err := netid.NewConnect(*server, *addr)
	if err != nil {
		fatalf("remote: %v", err)
	}

	n := config.DefaultNet()
	n.DialAttempts = 1
	reg := api.Registry()
	stack := netstack.New(tr, reg, netstack.WithKey(key), netstack.WithNet(n), netstack.WithLogger(log.Named("netstack")))
	cli := manager.NewClient(netid.NewInternal(*label), remote,
		manager.WithNetwork(stack),
		manager.WithRegistry(reg),
		manager.FromConfig(n),
		manager.WithLogger(log.Named("client")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := cli.Open(ctx); err != nil {
		fatalf("open: %v", err)
	}
	defer cli.Close()

	switch cmd {
	case "status":
		reply, _, err := request.Await[*api.StatusReply](ctx, cli.Request(&api.StatusRequest{}))
		if err != nil {
			fatalf("status: %v", err)
		}
		info, err := reply.Info()
		if err != nil {
			fatalf("status body: %v", err)
		}
		b, err := protojson.MarshalOptions{Multiline: true}.Marshal(info)
		if err != nil {
			fatalf("status json: %v", err)
		}
		fmt.Println(string(b))
	case "echo":
		req, err := api.NewEchoRequest(*text, parseMeta(*meta))
		if err != nil {
			fatalf("echo: %v", err)
		}
		start := time.Now()
		resp, _, err := request.Await[*api.EchoResponse](ctx, cli.Request(req))
		if err != nil {
			fatalf("echo: %v", err)
		}
		md, err := resp.Metadata()
		if err != nil {
			fatalf("echo meta: %v", err)
		}
		fmt.Printf("%s (%s) meta=%v\n", resp.Text, time.Since(start).Round(time.Microsecond), md)
	case "ping":
		if !cli.Send(&api.Ping{Seq: 1, SentAt: time.Now().UnixMilli()}) {
			fatalf("ping: connection not open")
		}
		fmt.Println("ping sent")
	default:
		fatalf("unknown command %q (status|echo|ping)", cmd)
	}
}

func parseMeta(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		k, v, _ := strings.Cut(kv, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "sbnet-ctl: "+format+"\n", args...)
	os.Exit(1)
}
