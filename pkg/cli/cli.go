package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-retainer/pkg/node"
    tracing "github.com/amirimatin/go-retainer/pkg/observability/tracing"
    "github.com/amirimatin/go-retainer/pkg/retain"
    tlsx "github.com/amirimatin/go-retainer/pkg/security/tlsconfig"
    "github.com/amirimatin/go-retainer/pkg/transport"
    httpjson "github.com/amirimatin/go-retainer/pkg/transport/httpjson"
)

// AddAll attaches retainer subcommands (run/status/get/set) to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewGetCmd())
    root.AddCommand(NewSetCmd())
}

// NewRetainCommand returns a parent command "retain" containing run/status/get/set as subcommands.
func NewRetainCommand() *cobra.Command {
    parent := &cobra.Command{Use: "retain", Short: "retained message commands"}
    AddAll(parent)
    return parent
}

// NewRunCmd returns the "run" command used to start a node.
func NewRunCmd() *cobra.Command {
    var (
        cfg         node.Config
        msgType     uint64
        traceEnable bool
        tlsf        tlsFlags
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a retainer node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing -id") }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg.MessageType = transport.MessageType(msgType)
            cfg.TLSEnable, cfg.TLSCA, cfg.TLSCert, cfg.TLSKey = tlsf.enable, tlsf.ca, tlsf.cert, tlsf.key
            cfg.TLSServerName, cfg.TLSSkipVerify = tlsf.serverName, tlsf.skip
            cfg.Logger = log.Default()

            n, err := node.Build(cfg)
            if err != nil { return err }
            if err := n.Start(ctx); err != nil { return err }
            defer n.Close()

            fmt.Println("retainer running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.MemBind, "mem-bind", ":7946", "membership bind addr (host:port)")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    f.StringVar(&cfg.RPCAddr, "rpc-addr", ":7950", "peer gRPC bind addr (host:port)")
    f.StringVar(&cfg.RPCAdv, "rpc-adv", "", "peer gRPC address advertised to other nodes (optional)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17950", "management HTTP address; empty disables it")
    f.StringVar(&cfg.DiscoveryKind, "discovery", node.DiscoveryStatic, "discovery backend: static|dns|file")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated seed nodes (host:port), used by discovery=static")
    f.StringVar(&cfg.DNSNamesCSV, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _retainer._tcp.example.com)")
    f.IntVar(&cfg.DNSPort, "dns-port", 7946, "port used for A/AAAA lookups")
    f.DurationVar(&cfg.DiscRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    f.StringVar(&cfg.FilePath, "file-path", "", "path or glob to a file with seeds (one per line or CSV)")
    f.StringVar(&cfg.FileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    f.StringVar(&cfg.StorageKind, "storage", node.StorageMemory, "local store: memory|bolt|redis")
    f.StringVar(&cfg.DataDir, "data", "", "data dir for storage=bolt")
    f.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for storage=redis")
    f.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
    f.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
    f.StringVar(&cfg.RedisPrefix, "redis-prefix", "", "redis key prefix (default retainer:<id>:)")
    f.IntVar(&cfg.MaxRetained, "max-retained", 0, "maximum retained topics on this node (0 = unlimited)")
    f.IntVar(&cfg.MaxPayloadSize, "max-payload", 0, "maximum payload size in bytes (0 = unlimited)")
    f.DurationVar(&cfg.DefaultTTL, "default-ttl", 0, "expiry applied to retains without one (0 = never)")
    f.DurationVar(&cfg.SweepInterval, "sweep-interval", 30*time.Second, "expired retain sweep interval")
    f.Uint64Var(&msgType, "message-type", uint64(node.DefaultMessageType), "tag carried by peer retain lookups")
    f.DurationVar(&cfg.PeerTimeout, "peer-timeout", 0, "per-peer lookup timeout (0 = wait for every peer)")
    f.IntVar(&cfg.FanoutLimit, "fanout-limit", 0, "concurrent peer lookups (0 = unlimited)")
    f.BoolVar(&cfg.QuietGossip, "quiet-gossip", false, "discard memberlist internal logs")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    tlsf.register(cmd, "node")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
        tlsf    tlsFlags
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := tlsf.client(timeout)
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            st, err := client.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            return printJSON(st)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17950", "management HTTP address of a node (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    tlsf.register(cmd, "client")
    return cmd
}

// NewGetCmd returns the "get" command.
func NewGetCmd() *cobra.Command {
    var (
        addr, filter string
        local        bool
        timeout      time.Duration
        tlsf         tlsFlags
    )
    cmd := &cobra.Command{
        Use:   "get",
        Short: "List retained messages matching a topic filter",
        RunE: func(cmd *cobra.Command, args []string) error {
            if len(args) > 0 { filter = args[0] }
            if err := retain.ValidateFilter(retain.TopicFilter(filter)); err != nil { return err }
            client, err := tlsf.client(timeout)
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            resp, err := client.GetRetains(ctx, addr, retain.TopicFilter(filter), local)
            if err != nil { return fmt.Errorf("get error: %w", err) }
            return printJSON(resp)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17950", "management HTTP address of a node (host:port)")
    cmd.Flags().StringVar(&filter, "filter", "#", "topic filter (may also be given as the first argument)")
    cmd.Flags().BoolVar(&local, "local", false, "query only the addressed node")
    cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
    tlsf.register(cmd, "client")
    return cmd
}

// NewSetCmd returns the "set" command.
func NewSetCmd() *cobra.Command {
    var (
        addr, topic, payload, from string
        qos                        uint8
        ttl, timeout               time.Duration
        props                      map[string]string
        tlsf                       tlsFlags
    )
    cmd := &cobra.Command{
        Use:   "set",
        Short: "Retain a message on a node (an empty payload clears the topic)",
        RunE: func(cmd *cobra.Command, args []string) error {
            if topic == "" { return fmt.Errorf("missing -topic") }
            if err := retain.ValidateTopic(retain.TopicName(topic)); err != nil { return err }
            client, err := tlsf.client(timeout)
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            req := transport.SetRetainRequest{Topic: retain.TopicName(topic), Payload: []byte(payload), QoS: qos, From: from, TTL: ttl, Props: props}
            if err := client.PostRetain(ctx, addr, req); err != nil { return fmt.Errorf("set error: %w", err) }
            fmt.Println("ok")
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17950", "management HTTP address of a node (host:port)")
    cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
    cmd.Flags().StringVar(&payload, "payload", "", "message payload")
    cmd.Flags().Uint8Var(&qos, "qos", 0, "QoS level recorded with the message")
    cmd.Flags().StringVar(&from, "from", "", "publisher id (defaults to the node id)")
    cmd.Flags().DurationVar(&ttl, "ttl", 0, "message expiry (0 = store default)")
    cmd.Flags().StringToStringVar(&props, "prop", nil, "user properties (k=v, repeatable)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    tlsf.register(cmd, "client")
    return cmd
}

type tlsFlags struct {
    enable, skip              bool
    ca, cert, key, serverName string
}

func (t *tlsFlags) register(cmd *cobra.Command, who string) {
    cmd.Flags().BoolVar(&t.enable, "tls-enable", false, "enable mTLS")
    cmd.Flags().StringVar(&t.ca, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&t.cert, "tls-cert", "", "path to "+who+" certificate (PEM)")
    cmd.Flags().StringVar(&t.key, "tls-key", "", "path to "+who+" private key (PEM)")
    cmd.Flags().BoolVar(&t.skip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&t.serverName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (t *tlsFlags) client(timeout time.Duration) (*httpjson.Client, error) {
    client := httpjson.NewClient(timeout)
    if !t.enable { return client, nil }
    topts := tlsx.Options{Enable: true, CAFile: t.ca, CertFile: t.cert, KeyFile: t.key, InsecureSkipVerify: t.skip, ServerName: t.serverName}
    cfg, err := topts.Client()
    if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    return client.UseTLS(cfg), nil
}

func printJSON(v any) error {
    enc := json.NewEncoder(os.Stdout)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
